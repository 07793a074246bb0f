package domain

// Timestamps are Unix milliseconds, the unit the web client sorts and
// formats on.

// MaxRecent is the cap on a profile's recently viewed list.
const MaxRecent = 20

// UserProfile is the public profile of a signed-up reader.
type UserProfile struct {
	ID          string   `json:"id"`
	Login       string   `json:"login"`
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName"`
	DateOfBirth string   `json:"dateOfBirth"`
	Country     string   `json:"country"`
	City        string   `json:"city"`
	AboutMe     string   `json:"aboutMe"`
	Favorites   []string `json:"favorites"`
	Recent      []string `json:"recent"`
}

// Account holds the credentials of a profile. It never leaves the server.
type Account struct {
	UserID       string `json:"userId"`
	Login        string `json:"login"`
	PasswordHash string `json:"passwordHash"`
	CreatedAt    int64  `json:"createdAt"`
}

// Book is a catalog entry. PDFKey and CoverKey name objects in the object
// store; PDFURL and CoverImageURL are filled with signed URLs on read.
type Book struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	Description   string `json:"description"`
	Summary       string `json:"summary"`
	Category      string `json:"category"`
	PDFKey        string `json:"pdfKey,omitempty"`
	CoverKey      string `json:"coverKey,omitempty"`
	PDFURL        string `json:"pdfUrl,omitempty"`
	CoverImageURL string `json:"coverImageUrl,omitempty"`
	PageCount     int    `json:"pageCount,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
	UpdatedAt     int64  `json:"updatedAt,omitempty"`
}

// Comment is a reader's comment on a book. ID is the full record key.
type Comment struct {
	ID        string `json:"id"`
	BookID    string `json:"bookId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserLogin string `json:"userLogin"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"createdAt"`
}

// Feedback is an anonymous contact-form message. ID is the full record key.
type Feedback struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"createdAt"`
}

// Rating is one reader's score for one book.
type Rating struct {
	Rating    int    `json:"rating"`
	BookID    string `json:"bookId"`
	UserID    string `json:"userId"`
	CreatedAt int64  `json:"createdAt"`
}

// AdminToken is the stored state of an admin session.
type AdminToken struct {
	Valid     bool  `json:"valid"`
	CreatedAt int64 `json:"createdAt"`
	ExpiresAt int64 `json:"expiresAt"`
}

// BookRating is the aggregate rating of a single book.
type BookRating struct {
	BookID        string  `json:"bookId"`
	AverageRating float64 `json:"averageRating"`
	TotalRatings  int     `json:"totalRatings"`
}

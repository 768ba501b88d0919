package internal

type RawEmailDocument struct {
	Content  string
	Filename string
}

type LocationRecord struct {
	ID         int     `json:"id"`
	Name       string  `json:"name"`
	City       string  `json:"city"`
	State      string  `json:"state"`
	PostalCode *string `json:"postal_code,omitempty"`
	Address    *string `json:"address,omitempty"`
}

// ExtractionResult is the outcome of one email extraction. When Success is
// false only Error is set.
type ExtractionResult struct {
	Success    bool    `json:"success"`
	Date       *string `json:"date,omitempty"`
	Time       *string `json:"time,omitempty"`
	Location   *string `json:"location,omitempty"`
	LocationID *int    `json:"locationId,omitempty"`
	Confidence float64 `json:"confidence"`
	RawText    string  `json:"rawText,omitempty"`
	Error      string  `json:"error,omitempty"`
}

type IncidentStatus string

const (
	IncidentPending   IncidentStatus = "pending"
	IncidentInReview  IncidentStatus = "in_review"
	IncidentCompleted IncidentStatus = "completed"
	IncidentRejected  IncidentStatus = "rejected"
)

type Incident struct {
	ID           int            `json:"id"`
	Type         string         `json:"type"`
	IncidentDate string         `json:"incident_date"`
	IncidentTime string         `json:"incident_time"`
	LocationID   *int           `json:"location_id"`
	EmailID      *int           `json:"email_id"`
	EmailData    string         `json:"email_data,omitempty"`
	Status       IncidentStatus `json:"status"`
	CreatedAt    string         `json:"created_at"`
}

type EmailStatus string

const (
	EmailFetched   EmailStatus = "fetched"
	EmailSkipped   EmailStatus = "skipped"
	EmailReview    EmailStatus = "review"
	EmailSubmitted EmailStatus = "submitted"
	EmailFailed    EmailStatus = "failed"
	EmailExported  EmailStatus = "exported"
)

type EmailRow struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     EmailStatus
	RawRef     string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

type IncidentExportRow struct {
	IncidentID   int
	Type         string
	IncidentDate string
	IncidentTime string
	Status       string
	CreatedAt    string
	LocationID   *int
	LocationName *string
	City         *string
	State        *string
	Confidence   *float64
	EmailSubject *string
	EmailSender  *string
}

// ExtractionRecord is an ExtractionResult stored for a mailbox message.
type ExtractionRecord struct {
	ID           int
	EmailID      int
	Result       ExtractionResult
	DetectScore  float64
	IncidentType string
	CreatedAt    string
}

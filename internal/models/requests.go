package models

import "time"

// SubmitRecordRequest is the ingestion payload from the data-serving shell.
type SubmitRecordRequest struct {
	OwnerAccount string             `json:"owner_account"`
	AgreementID  string             `json:"agreement_id"`
	Kind         RecordKind         `json:"kind"`
	Values       map[string]float64 `json:"values"`
	Context      map[string]string  `json:"context,omitempty"`
	CapturedAt   time.Time          `json:"captured_at"`
}

// SubmitRecordResponse returns the stored record with its assessment.
type SubmitRecordResponse struct {
	Record     *DataRecord        `json:"record"`
	Assessment *QualityAssessment `json:"assessment"`
}

// AuthorizeRequest is an access check from the data-serving shell.
type AuthorizeRequest struct {
	TokenID    string     `json:"token_id"`
	Requester  string     `json:"requester"`
	ResourceID string     `json:"resource_id"`
	Kind       RecordKind `json:"kind,omitempty"`
	// Fresh forces a cache bypass for the ownership query.
	Fresh bool `json:"fresh,omitempty"`
}

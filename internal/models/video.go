// Package models defines the records and configuration structures of the
// video pipeline.
package models

import "time"

// Video is one uploaded asset. Permlink is assigned at creation and never
// changes.
type Video struct {
	Owner            string    `json:"owner"                       bson:"owner"`
	Permlink         string    `json:"permlink"                    bson:"permlink"`
	FrontendApp      string    `json:"frontend_app"                bson:"frontend_app"`
	Status           string    `json:"status"                      bson:"status"` // see constants.VideoStatus* constants
	InputCID         *string   `json:"input_cid"                   bson:"input_cid"`
	ManifestCID      *string   `json:"manifest_cid"                bson:"manifest_cid"`
	ThumbnailURL     *string   `json:"thumbnail_url"               bson:"thumbnail_url"`
	Short            bool      `json:"short"                       bson:"short"`
	Duration         *float64  `json:"duration"                    bson:"duration"` // seconds
	Size             *int64    `json:"size"                        bson:"size"`     // bytes
	EncodingProgress int       `json:"encodingProgress"            bson:"encodingProgress"`
	OriginalFilename *string   `json:"originalFilename"            bson:"originalFilename"`
	CreatedAt        time.Time `json:"createdAt"                   bson:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"                   bson:"updatedAt"`
}

// EncodingJob tracks the encoding of one (owner, permlink) pair.
type EncodingJob struct {
	Owner             string     `json:"owner"             bson:"owner"`
	Permlink          string     `json:"permlink"          bson:"permlink"`
	Status            string     `json:"status"            bson:"status"` // see constants.JobStatus* constants
	AssignedWorker    *string    `json:"assignedWorker"    bson:"assignedWorker"`
	EncoderJobID      *string    `json:"encoderJobId"      bson:"encoderJobId"`
	AssignedAt        *time.Time `json:"assignedAt"        bson:"assignedAt"`
	AttemptCount      int        `json:"attemptCount"      bson:"attemptCount"`
	LastError         *string    `json:"lastError"         bson:"lastError"`
	WebhookReceivedAt *time.Time `json:"webhookReceivedAt" bson:"webhookReceivedAt"`
	CreatedAt         time.Time  `json:"createdAt"         bson:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"         bson:"updatedAt"`
}

// Key returns the "owner/permlink" form used in logs.
func (j *EncodingJob) Key() string {
	return j.Owner + "/" + j.Permlink
}

// APIKey is a credential issued to a frontend application.
type APIKey struct {
	Key       string     `json:"key"        bson:"key"`
	AppName   string     `json:"app_name"   bson:"app_name"`
	Owner     string     `json:"owner"      bson:"owner"`
	Active    bool       `json:"active"     bson:"active"`
	CreatedAt time.Time  `json:"createdAt"  bson:"createdAt"`
	LastUsed  *time.Time `json:"lastUsed"   bson:"lastUsed"`
}

// Encoder describes one external encoding worker. The ordered list of
// enabled encoders is the round-robin rotation domain.
type Encoder struct {
	Name       string `json:"name"       yaml:"name"`
	URL        string `json:"url"        yaml:"url"`
	Credential string `json:"-"          yaml:"credential"`
	Enabled    bool   `json:"enabled"    yaml:"enabled"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to i.
func IntPtr(i int) *int {
	return &i
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}

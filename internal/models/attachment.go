package models

import "time"

type Attachment struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Filename       string    `json:"filename"`
	Size           int64     `json:"size"`
	ContentType    string    `json:"content_type"`
	UploaderID     int64     `json:"uploader_id"`
	StorageRef     string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

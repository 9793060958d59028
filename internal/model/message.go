package model

import "time"

// Message is the normalized projection record for one remote message.
// ID is remote-assigned and unique within a chat; later events for the same
// (ChatID, ID) pair merge into the existing record.
type Message struct {
	ID        string         `json:"id"`
	ChatID    string         `json:"chatId"`
	Sender    string         `json:"sender"`
	Direction Direction      `json:"direction"`
	Kind      ContentKind    `json:"kind"`
	Text      string         `json:"text,omitempty"`
	Media     *MediaInfo     `json:"media,omitempty"`
	Location  *LocationInfo  `json:"location,omitempty"`
	Contact   *ContactInfo   `json:"contact,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Status    DeliveryStatus `json:"status"`
}

type MediaInfo struct {
	MimeType string `json:"mimeType,omitempty"`
	FileName string `json:"fileName,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type LocationInfo struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
}

type ContactInfo struct {
	DisplayName string `json:"displayName"`
	VCard       string `json:"vcard,omitempty"`
}

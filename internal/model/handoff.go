package model

import "time"

// PDFMeta is the part of a selected PDF that survives a page reload.
// The bytes never do.
type PDFMeta struct {
	Name         string    `json:"name"`
	LastModified time.Time `json:"lastModified"`
	Size         int64     `json:"size"`
}

package model

import "io"

// Kind identifies which variant of a Submission is populated.
type Kind int

const (
	KindFileUpload Kind = iota + 1
	KindHashReference
)

func (k Kind) String() string {
	switch k {
	case KindFileUpload:
		return "file"
	case KindHashReference:
		return "hash"
	default:
		return "invalid"
	}
}

// Submission is a single artifact handed in for scanning: either raw file
// bytes or a digest the caller computed. Exactly one variant is set.
type Submission struct {
	Kind Kind

	// File and Filename are set for KindFileUpload. File is consumed once.
	File     io.Reader
	Filename string

	// Hash is set for KindHashReference and is passed upstream verbatim.
	Hash string
}

// NewFileUpload returns a file-upload submission reading from r.
func NewFileUpload(filename string, r io.Reader) *Submission {
	return &Submission{Kind: KindFileUpload, File: r, Filename: filename}
}

// NewHashReference returns a submission for a caller-supplied digest.
func NewHashReference(hash string) *Submission {
	return &Submission{Kind: KindHashReference, Hash: hash}
}

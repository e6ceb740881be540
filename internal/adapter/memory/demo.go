package memory

import (
	"github.com/jun/docpick/internal/model"
	"github.com/jun/docpick/internal/scratch"
)

const demoPDF = "%PDF-1.4\n1 0 obj<</Type/Catalog/Pages 2 0 R>>endobj\n2 0 obj<</Type/Pages/Kids[]/Count 0>>endobj\ntrailer<</Root 1 0 R>>\n%%EOF\n"

// Demo returns a source seeded with a small folder tree, enough to page
// through and pick a document without a real provider account.
func Demo(p model.Provider, area *scratch.Area, pageSize int) *Source {
	s := New(p, area, pageSize)

	jobs, _ := s.AddFolder("", "Job Applications")
	s.AddFolder("", "Photos")
	for _, name := range []string{"Resume 2026.pdf", "Resume 2025.pdf", "Resume (old).pdf"} {
		s.AddFile("", name, "application/pdf", []byte(demoPDF))
	}
	s.AddFile("", "notes.txt", "text/plain", []byte("interview prep notes\n"))
	s.AddFile("", "holiday.png", "image/png", []byte("\x89PNG\r\n\x1a\n"))

	s.AddFile(jobs, "Cover letter - Acme.pdf", "application/pdf", []byte(demoPDF))
	s.AddFile(jobs, "Portfolio.odt", "application/vnd.oasis.opendocument.text", []byte("odt"))
	if p == model.GoogleDrive {
		s.AddFile(jobs, "Resume draft", "application/vnd.google-apps.document", []byte(demoPDF))
	}
	return s
}

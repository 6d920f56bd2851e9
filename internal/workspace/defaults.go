package workspace

import (
	"github.com/instantpreview/instantpreview/internal/languages"
	"github.com/instantpreview/instantpreview/pkg/models"
)

// DefaultTree returns the starter workspace: the three web files at the
// root and an Examples folder with two language samples. Ids are fresh on
// every call.
func DefaultTree() []*models.FileNode {
	examples := models.NewFolder("Examples")
	examples.Children = []*models.FileNode{
		newFile("example.py", "python"),
		newFile("Example.java", "java"),
	}
	return []*models.FileNode{
		newFile("index.html", "html"),
		newFile("styles.css", "css"),
		newFile("script.js", "javascript"),
		examples,
	}
}

// DefaultSlots returns the slot buffers used when nothing was saved yet.
func DefaultSlots() models.Slots {
	return models.Slots{
		HTML:   languages.DefaultContent("html"),
		CSS:    languages.DefaultContent("css"),
		JS:     languages.DefaultContent("javascript"),
		Script: "",
	}
}

func newFile(name, language string) *models.FileNode {
	return models.NewFile(name, language, languages.DefaultContent(language))
}

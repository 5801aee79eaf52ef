package ocr

import (
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Engine is the contract with the external OCR engine. Version is the startup
// capability probe; Recognize extracts text from raw image bytes.
type Engine interface {
	Version() (string, error)
	Recognize(image []byte) (text string, confidence *float64, err error)
}

// TesseractEngine runs OCR through the Tesseract binding. A fresh client is
// created per recognition: gosseract clients are not safe for reuse across
// images with per-image state, and the worker processes frames sequentially.
type TesseractEngine struct {
	language string
	options  string
}

// NewTesseractEngine creates an engine for the given language (e.g. "eng",
// "eng+spa") and free-form options string of space-separated key=value pairs
// applied as Tesseract variables.
func NewTesseractEngine(language, options string) *TesseractEngine {
	if language == "" {
		language = "eng"
	}
	return &TesseractEngine{language: language, options: options}
}

// Version probes the installed Tesseract and returns its version string.
func (e *TesseractEngine) Version() (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	version := client.Version()
	if version == "" {
		return "", fmt.Errorf("tesseract is not available")
	}
	return version, nil
}

// Recognize runs word-level OCR on the image. Text is the space-joined
// sequence of non-empty words in reading order; confidence is the mean of
// non-negative per-word confidences, nil when no words were detected.
func (e *TesseractEngine) Recognize(image []byte) (string, *float64, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Split(e.language, "+")...); err != nil {
		return "", nil, fmt.Errorf("failed to set OCR language %q: %w", e.language, err)
	}

	if err := e.applyOptions(client); err != nil {
		return "", nil, err
	}

	if err := client.SetImageFromBytes(image); err != nil {
		return "", nil, fmt.Errorf("failed to load image into OCR engine: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return "", nil, fmt.Errorf("OCR recognition failed: %w", err)
	}

	var words []string
	var confSum float64
	var confCount int

	for _, box := range boxes {
		word := strings.TrimSpace(box.Word)
		if word == "" {
			continue
		}
		words = append(words, word)
		if box.Confidence >= 0 {
			confSum += box.Confidence
			confCount++
		}
	}

	text := strings.Join(words, " ")

	var confidence *float64
	if confCount > 0 {
		avg := confSum / float64(confCount)
		confidence = &avg
	}

	return text, confidence, nil
}

func (e *TesseractEngine) applyOptions(client *gosseract.Client) error {
	if e.options == "" {
		return nil
	}
	for _, opt := range strings.Fields(e.options) {
		key, value, found := strings.Cut(opt, "=")
		if !found {
			return fmt.Errorf("invalid OCR engine option %q: expected key=value", opt)
		}
		if err := client.SetVariable(gosseract.SettableVariable(key), value); err != nil {
			return fmt.Errorf("failed to set OCR variable %q: %w", key, err)
		}
	}
	return nil
}

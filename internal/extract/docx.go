package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const docxBodyPart = "word/document.xml"

// DOCXDecoder extracts the raw text of a Word document. Each paragraph is
// followed by a blank line; the result is returned untrimmed.
type DOCXDecoder struct{}

// NewDOCXDecoder returns a DOCXDecoder.
func NewDOCXDecoder() *DOCXDecoder { return &DOCXDecoder{} }

// Decode reads word/document.xml from the container. A document without
// paragraphs yields "" and no error.
func (d *DOCXDecoder) Decode(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open docx container: %w", ErrDecodeFailed, err)
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBodyPart {
			body = f
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("%w: %s not found in archive", ErrDecodeFailed, docxBodyPart)
	}

	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", ErrDecodeFailed, docxBodyPart, err)
	}
	defer rc.Close()

	text, err := documentText(rc)
	if err != nil {
		return "", fmt.Errorf("%w: parse %s: %w", ErrDecodeFailed, docxBodyPart, err)
	}
	return text, nil
}

// documentText walks the WordprocessingML token stream. Only w:t text
// inside runs is kept; tabs and breaks inside runs become \t and \n.
// Paragraphs nested in text boxes are folded into their outer paragraph.
func documentText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		out       strings.Builder
		para      strings.Builder
		paraDepth int
		runDepth  int
		inText    bool
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				if paraDepth == 0 {
					para.Reset()
				}
				paraDepth++
			case "r":
				runDepth++
			case "t":
				inText = runDepth > 0
			case "tab":
				if runDepth > 0 {
					para.WriteByte('\t')
				}
			case "br", "cr":
				if runDepth > 0 {
					para.WriteByte('\n')
				}
			}

		case xml.CharData:
			if inText {
				para.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "r":
				if runDepth > 0 {
					runDepth--
				}
			case "p":
				if paraDepth == 0 {
					continue
				}
				paraDepth--
				if paraDepth == 0 {
					out.WriteString(para.String())
					out.WriteString("\n\n")
				}
			}
		}
	}

	return out.String(), nil
}

package notify

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"cloud.google.com/go/civil"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
	"github.com/JakeFAU/gazette-watch/internal/textsearch"
)

// CSVContentType is the MIME type of the export attachment.
const CSVContentType = "text/csv; charset=utf-8"

var exportHeader = []string{"Data Publicação", "Termo", "Página", "Conteúdo", "Link"}

// utf8BOM lets spreadsheet tools detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ExportCSV writes the report highlights as a semicolon-separated sheet.
func ExportCSV(rep gazette.Report) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(utf8BOM)
	w := csv.NewWriter(&buf)
	w.Comma = ';'
	date := formatDate(rep.PublicationDate)
	if err := w.Write(exportHeader); err != nil {
		return nil, fmt.Errorf("write export header: %w", err)
	}
	for _, h := range rep.Highlights {
		row := []string{date, h.Term, strconv.Itoa(h.Page), textsearch.StripMarks(h.Content), h.PageLink}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write export row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush export: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportFilename names the attachment after the publication date.
func ExportFilename(date civil.Date) string {
	return "notificacoes_" + date.String() + ".csv"
}

package gazette

import (
	"encoding/json"
	"net/url"

	"cloud.google.com/go/civil"
)

// Default viewer coordinates of the official gazette.
const (
	DefaultViewerURL  = "https://www.jornalminasgerais.mg.gov.br/edicao-do-dia"
	DefaultNotebookID = 326074
)

// LinkBuilder derives deep links into the gazette viewer.
type LinkBuilder struct {
	ViewerURL  string
	NotebookID int64
}

// NewLinkBuilder applies defaults for empty values.
func NewLinkBuilder(viewerURL string, notebookID int64) LinkBuilder {
	if viewerURL == "" {
		viewerURL = DefaultViewerURL
	}
	if notebookID == 0 {
		notebookID = DefaultNotebookID
	}
	return LinkBuilder{ViewerURL: viewerURL, NotebookID: notebookID}
}

type pageSelection struct {
	Date     string `json:"dataPublicacaoSelecionada"`
	Notebook int64  `json:"idCadernoEdicaoSelecionado"`
	Page     int    `json:"paginaSelecionada"`
}

type editionSelection struct {
	Date string `json:"dataPublicacaoSelecionada"`
}

// viewerTimestamp is midnight in Brasília expressed in UTC, as the viewer expects.
func viewerTimestamp(date civil.Date) string {
	return date.String() + "T03:00:00.000Z"
}

// PageLink opens the viewer on a specific page of an edition.
func (b LinkBuilder) PageLink(date civil.Date, page int) string {
	return b.encode(pageSelection{Date: viewerTimestamp(date), Notebook: b.NotebookID, Page: page})
}

// EditionLink opens the viewer on the first page of an edition.
func (b LinkBuilder) EditionLink(date civil.Date) string {
	return b.encode(editionSelection{Date: viewerTimestamp(date)})
}

func (b LinkBuilder) encode(v any) string {
	// Marshal of these flat structs cannot fail.
	payload, _ := json.Marshal(v) //nolint:errcheck // see above
	return b.ViewerURL + "?dados=" + url.QueryEscape(string(payload))
}

package saml

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
)

// statusPageTemplate renders the admin validation page. The status payload
// is embedded base64-encoded and decoded client-side, so the page can
// evolve without template changes.
var statusPageTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>SAML validation</title>
  <link rel="stylesheet" href="{{.ContextPath}}/static/samlgate/validation.css">
</head>
<body>
  <div id="content" data-status="{{.Payload}}"></div>
  <script src="{{.ContextPath}}/static/samlgate/validation.js"></script>
</body>
</html>
`))

// RenderStatusPage writes the validation page carrying the given status.
// contextPath is the deployment prefix asset URLs are resolved against.
func RenderStatusPage(w io.Writer, contextPath string, status *Status) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to serialize validation status: %w", err)
	}
	return statusPageTemplate.Execute(w, struct {
		ContextPath string
		Payload     string
	}{
		ContextPath: contextPath,
		Payload:     base64.StdEncoding.EncodeToString(payload),
	})
}

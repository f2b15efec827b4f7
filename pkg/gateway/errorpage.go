package gateway

import (
	"html/template"
	"net/http"

	"github.com/google/uuid"

	"github.com/easyauth-k8s/easyauth/pkg/logger"
)

// errorPage is shown for protocol errors: IdP failures, manifest fetch
// failures, granted-scope mismatches. These are fatal to the current sign-in
// attempt; retrying without user interaction would loop.
var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign-in error</title></head>
<body>
<h1>Something went wrong signing you in</h1>
<p>The sign-in attempt could not be completed. Please close this window and
try again. If the problem persists, contact your administrator and quote the
reference below.</p>
<p><code>Reference: {{.TraceID}}</code></p>
</body>
</html>
`))

// renderError logs the full error under a fresh trace id and shows the user
// only the id, never the error detail.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	traceID := uuid.NewString()
	logger.Errorf("sign-in failed (trace %s) path=%s: %v", traceID, r.URL.Path, err)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	if tmplErr := errorPage.Execute(w, struct{ TraceID string }{traceID}); tmplErr != nil {
		logger.Errorf("failed to render error page: %v", tmplErr)
	}
}

// Package webhook receives inbound SMS callbacks from the messaging
// provider, runs them through the decision pipeline, and answers with
// TwiML. Every request gets a 200 with a TwiML body; the document is
// empty when the pipeline decides to stay silent.
package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arlobry/doorcode/internal/decision"
	"github.com/arlobry/doorcode/internal/logging"
	"github.com/arlobry/doorcode/internal/twiml"
)

// SignatureHeader carries the provider's request signature.
const SignatureHeader = "X-Twilio-Signature"

// Handler serves the inbound SMS webhook.
type Handler struct {
	pipeline  *decision.Pipeline
	authToken string // empty disables signature verification
	publicURL string // externally visible base URL, used to rebuild the signed URL
	now       func() time.Time
	logger    *slog.Logger
}

// NewHandler creates a webhook handler. authToken enables signature
// verification; publicURL must then be the base URL the provider was
// given (scheme, host, optional port — no trailing slash).
func NewHandler(pipeline *decision.Pipeline, authToken, publicURL string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pipeline:  pipeline,
		authToken: authToken,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		now:       time.Now,
		logger:    logger,
	}
}

// RegisterRoutes mounts the webhook endpoint
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/webhook/sms", h.Inbound)
}

// Inbound handles POST /webhook/sms
func (h *Handler) Inbound(c *gin.Context) {
	ctx := c.Request.Context()

	if err := c.Request.ParseForm(); err != nil {
		c.Data(http.StatusBadRequest, twiml.ContentType, nil)
		return
	}

	if h.authToken != "" && !h.verifySignature(c) {
		logging.L(ctx).Warn("webhook signature rejected", "client_ip", c.ClientIP())
		c.Data(http.StatusForbidden, twiml.ContentType, nil)
		return
	}

	from := c.Request.PostForm.Get("From")
	body := c.Request.PostForm.Get("Body")

	out, err := h.pipeline.Decide(ctx, from, body, h.now())
	if err != nil {
		// A store failure means we can't decide; tell the provider to
		// retry rather than inventing an answer.
		logging.L(ctx).Error("decision failed", "error", err)
		c.Data(http.StatusInternalServerError, twiml.ContentType, nil)
		return
	}

	var doc []byte
	if out.Kind == decision.Silent {
		doc, err = twiml.Empty()
	} else {
		doc, err = twiml.Reply(out.Reply)
	}
	if err != nil {
		logging.L(ctx).Error("twiml render failed", "error", err)
		c.Data(http.StatusInternalServerError, twiml.ContentType, nil)
		return
	}

	logging.L(ctx).Info("message decided",
		"outcome", string(out.Kind),
		"reason", out.Reason,
	)
	c.Data(http.StatusOK, twiml.ContentType, doc)
}

// verifySignature checks the provider's HMAC-SHA1 request signature:
// base64(HMAC(authToken, url + concat(sorted form key+value pairs))).
func (h *Handler) verifySignature(c *gin.Context) bool {
	got := c.GetHeader(SignatureHeader)
	if got == "" {
		return false
	}
	want := Sign(h.authToken, h.publicURL+c.Request.URL.RequestURI(), c.Request.PostForm)
	return hmac.Equal([]byte(got), []byte(want))
}

// Sign computes the provider signature for a URL and form body. It is
// exported so tests and tooling can produce valid requests.
func Sign(authToken, url string, form map[string][]string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

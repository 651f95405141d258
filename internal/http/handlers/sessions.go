package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/KPaul404/Virtual-try-on/internal/compositor"
	"github.com/KPaul404/Virtual-try-on/internal/credentials"
	"github.com/KPaul404/Virtual-try-on/internal/domain"
	"github.com/KPaul404/Virtual-try-on/internal/session"
	"github.com/KPaul404/Virtual-try-on/pkg/zip"
)

const finalImageName = "ai-styled-fashion"

type createSessionResponse struct {
	ID string `json:"id"`
}

type imagePayload struct {
	Image string `json:"image"`
}

type credentialPayload struct {
	APIKey string `json:"api_key"`
}

type runResponse struct {
	Running bool                 `json:"running"`
	Steps   []domain.ProcessStep `json:"steps"`
	Result  *domain.Result       `json:"result,omitempty"`
}

func (a *App) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Create()
	a.Logger.Info().Str("session_id", sess.ID).Msg("session created")
	a.json(w, http.StatusCreated, createSessionResponse{ID: sess.ID})
}

func (a *App) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, sess.View())
}

// PutImage stores one of the two source photos. The body is either JSON
// carrying a data URI or the raw image bytes with an image Content-Type.
func (a *App) PutImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	kind, err := session.ParseImageKind(chi.URLParam(r, "kind"))
	if err != nil {
		a.fail(w, r, err)
		return
	}

	img, err := a.readImage(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !a.checkImage(w, kind, img) {
		return
	}
	if err := sess.SetImage(kind, img); err != nil {
		a.fail(w, r, err)
		return
	}
	a.publish(sess)
	a.json(w, http.StatusOK, sess.View())
}

// checkImage applies the compositor's decode limits so oversized or
// malformed photos are rejected before a run starts.
func (a *App) checkImage(w http.ResponseWriter, kind session.ImageKind, img domain.StillImage) bool {
	dec, err := compositor.Decode(img)
	if err == nil && kind == session.KindModel {
		err = compositor.CheckModelAspect(dec.Width, dec.Height)
	}
	switch {
	case err == nil:
		return true
	case errors.Is(err, compositor.ErrTooLarge):
		a.error(w, http.StatusBadRequest, "image_too_large",
			fmt.Sprintf("image must be at most %dx%d pixels", compositor.MaxSide, compositor.MaxSide))
	case errors.Is(err, compositor.ErrModelAspect):
		a.error(w, http.StatusBadRequest, "invalid_aspect",
			fmt.Sprintf("model photo aspect ratio must be within %d:1", compositor.MaxModelAspect))
	default:
		a.error(w, http.StatusBadRequest, "invalid_image", "image could not be decoded")
	}
	return false
}

func (a *App) readImage(w http.ResponseWriter, r *http.Request) (domain.StillImage, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.MaxUploadBytes))
	if err != nil {
		return domain.StillImage{}, err
	}
	if len(body) == 0 {
		return domain.StillImage{}, &domain.ValidationError{Field: "image", Message: "image is required"}
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/json":
		var p imagePayload
		if err := json.Unmarshal(body, &p); err != nil {
			return domain.StillImage{}, &domain.ValidationError{Field: "body", Message: "invalid payload", Err: err}
		}
		img, err := domain.ParseDataURI(strings.TrimSpace(p.Image))
		if err != nil {
			return domain.StillImage{}, &domain.ValidationError{Field: "image", Message: "image must be a base64 data URI", Err: err}
		}
		return img, nil
	case strings.HasPrefix(mediaType, "image/"):
		return domain.NewStillImage(mediaType, body), nil
	}
	return domain.StillImage{}, &domain.ValidationError{
		Field:   "content-type",
		Message: "send application/json or an image content type",
	}
}

func (a *App) StartRun(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	if err := a.startRun(sess); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, sess.View())
}

func (a *App) GetRun(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	v := sess.View()
	a.json(w, http.StatusOK, runResponse{Running: v.Running, Steps: v.Steps, Result: v.Result})
}

// Events streams session views as server-sent events. The current view is
// sent first.
func (a *App) Events(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	if a.Hub == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "event stream is not enabled")
		return
	}
	initial, err := json.Marshal(sess.View())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Hub.Stream(w, r, sess.ID, initial); err != nil {
		a.Logger.Warn().Err(err).Str("session_id", sess.ID).Msg("event stream ended")
	}
}

// PutCredential stores the user's own API key. With rerun=true the last
// inputs are styled again using the new key.
func (a *App) PutCredential(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var p credentialPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&p); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	key := strings.TrimSpace(p.APIKey)
	if key == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "api_key is required")
		return
	}
	sess.SetCredential(key)
	a.Logger.Info().Str("session_id", sess.ID).Str("api_key", credentials.Mask(key)).Msg("session credential set")

	rerun, _ := strconv.ParseBool(r.URL.Query().Get("rerun"))
	if !rerun {
		a.json(w, http.StatusOK, sess.View())
		return
	}
	if err := a.startRun(sess); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, sess.View())
}

// ResetSession drops the photos and the last run. The credential is kept.
func (a *App) ResetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	if err := sess.Reset(); err != nil {
		a.fail(w, r, err)
		return
	}
	a.publish(sess)
	a.json(w, http.StatusOK, sess.View())
}

func (a *App) GetFinal(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	res, ok := sess.Result()
	if !ok || res.FinalImage == nil {
		a.error(w, http.StatusNotFound, "not_found", "no final image available")
		return
	}
	img := *res.FinalImage
	w.Header().Set("Content-Type", img.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", finalImageName+img.Extension()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

func (a *App) GetFallbacksZip(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	res, ok := sess.Result()
	if !ok || len(res.FallbackImages) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no fallback images available")
		return
	}
	assets := make([]zip.Asset, 0, len(res.FallbackImages))
	for i, img := range res.FallbackImages {
		assets = append(assets, zip.Asset{
			Filename: fmt.Sprintf("fallback-%d%s", i+1, img.Extension()),
			MIME:     img.MIMEType,
			Data:     img.Data,
		})
	}
	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="fallbacks.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func (a *App) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := a.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return nil, false
	}
	return sess, true
}

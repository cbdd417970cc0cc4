package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/nguyentantai21042004/cirse-notes/internal/apperror"
	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

// maxUploadBytes is the OpenAI audio upload limit.
const maxUploadBytes = 25 << 20

type openaiTranscriber struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

func newOpenAI(cfg Config, client *http.Client, log logger.Logger) (Transcriber, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai transcriber: api key required")
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	endpoint, err := url.JoinPath(base, "audio", "transcriptions")
	if err != nil {
		return nil, fmt.Errorf("openai transcriber: build url: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	return &openaiTranscriber{
		cfg:        cfg,
		endpoint:   endpoint,
		httpClient: client,
		logger:     log,
	}, nil
}

func (t *openaiTranscriber) Name() string { return ProviderOpenAI }

type verboseTranscription struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

func (t *openaiTranscriber) Transcribe(ctx context.Context, asset model.MediaAsset) (model.Transcript, error) {
	const op = "openai transcribe"
	if asset.Body == nil {
		return model.Transcript{}, apperror.Permanent(apperror.Wrap(apperror.ErrTranscription, op, "empty media asset", nil))
	}
	if asset.Size > maxUploadBytes {
		return model.Transcript{}, apperror.Permanent(apperror.Wrap(apperror.ErrTranscription, op,
			fmt.Sprintf("media is %d MB, above the %d MB upload limit", asset.Size>>20, maxUploadBytes>>20), nil))
	}

	t.logger.Info(ctx, "Uploading %s (%s) to %s", asset.Name, asset.MIMEType, t.cfg.Model)

	// Stream the body straight into the request; nothing is buffered.
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	done := make(chan struct{})
	go func() {
		defer close(done)
		pw.CloseWithError(t.writeForm(form, asset))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, pr)
	if err != nil {
		pr.Close()
		<-done
		return model.Transcript{}, apperror.Wrap(apperror.ErrTranscription, op, "new request", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	pr.Close()
	<-done
	if err != nil {
		return model.Transcript{}, classify(ctx, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return model.Transcript{}, classify(ctx, op, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return model.Transcript{}, classify(ctx, op, &httpStatusError{StatusCode: resp.StatusCode, Message: apiMessage(body)})
	}

	var parsed verboseTranscription
	if err := json.Unmarshal(body, &parsed); err != nil {
		return model.Transcript{}, apperror.Wrap(apperror.ErrTranscription, op, "decode response", err)
	}
	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		return model.Transcript{}, apperror.Permanent(apperror.Wrap(apperror.ErrTranscription, op, "empty transcript", nil))
	}

	t.logger.Info(ctx, "Transcribed %s: %d chars, language %s", asset.Name, len(text), parsed.Language)
	return model.Transcript{
		ItemID:   asset.ItemID,
		Text:     text,
		Language: parsed.Language,
	}, nil
}

func (t *openaiTranscriber) writeForm(form *multipart.Writer, asset model.MediaAsset) error {
	fields := [][2]string{
		{"model", t.cfg.Model},
		{"response_format", "verbose_json"},
	}
	if t.cfg.Language != "" {
		fields = append(fields, [2]string{"language", t.cfg.Language})
	}
	if t.cfg.Prompt != "" {
		fields = append(fields, [2]string{"prompt", t.cfg.Prompt})
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}

	name := asset.Name
	if name == "" {
		name = asset.ItemID
	}
	contentType := asset.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, asset.Body); err != nil {
		return fmt.Errorf("read media: %w", err)
	}
	return form.Close()
}

package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/nguyentantai21042004/cirse-notes/internal/apperror"
	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
	"github.com/nguyentantai21042004/cirse-notes/pkg/executor"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9]+`)

// whisperCPP runs a local whisper.cpp build. Media is spooled to disk because
// both ffmpeg and whisper.cpp read from files.
type whisperCPP struct {
	cfg      Config
	executor executor.Executor
	logger   logger.Logger
}

func newWhisperCPP(cfg Config, exec executor.Executor, log logger.Logger) (Transcriber, error) {
	if cfg.WhisperBinary == "" || cfg.WhisperModel == "" {
		return nil, errors.New("whisper_cpp transcriber: binary and model paths are required")
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 4
	}
	return &whisperCPP{cfg: cfg, executor: exec, logger: log}, nil
}

func (w *whisperCPP) Name() string { return ProviderWhisperCPP }

func (w *whisperCPP) Transcribe(ctx context.Context, asset model.MediaAsset) (model.Transcript, error) {
	const op = "whisper.cpp transcribe"
	if asset.Body == nil {
		return model.Transcript{}, apperror.Permanent(apperror.Wrap(apperror.ErrTranscription, op, "empty media asset", nil))
	}

	workDir, err := w.workDir(asset.ItemID)
	if err != nil {
		return model.Transcript{}, apperror.Wrap(apperror.ErrTranscription, op, "create work dir", err)
	}
	defer os.RemoveAll(workDir)

	mediaPath, err := spool(workDir, asset)
	if err != nil {
		return model.Transcript{}, apperror.Wrap(apperror.ErrTranscription, op, "spool media", err)
	}

	audioPath, err := w.extractAudio(ctx, workDir, mediaPath)
	if err != nil {
		if ctxErr := apperror.FromContext(ctx, op); ctxErr != nil {
			return model.Transcript{}, apperror.Wrap(apperror.ErrTranscription, op, "", ctxErr)
		}
		return model.Transcript{}, apperror.Permanent(apperror.Wrap(apperror.ErrTranscription, op, "unsupported media", err))
	}

	text, err := w.transcribe(ctx, audioPath)
	if err != nil {
		if ctxErr := apperror.FromContext(ctx, op); ctxErr != nil {
			return model.Transcript{}, apperror.Wrap(apperror.ErrTranscription, op, "", ctxErr)
		}
		return model.Transcript{}, apperror.Wrap(apperror.ErrTranscription, op, "", err)
	}
	if text == "" {
		return model.Transcript{}, apperror.Permanent(apperror.Wrap(apperror.ErrTranscription, op, "empty transcript", nil))
	}

	return model.Transcript{
		ItemID:   asset.ItemID,
		Text:     text,
		Language: w.cfg.Language,
	}, nil
}

func (w *whisperCPP) workDir(itemID string) (string, error) {
	base := w.cfg.TempDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	return os.MkdirTemp(base, "whisper-"+unsafeChars.ReplaceAllString(itemID, "_")+"-")
}

func spool(dir string, asset model.MediaAsset) (string, error) {
	ext := filepath.Ext(asset.Name)
	if ext == "" {
		ext = ".media"
	}
	path := filepath.Join(dir, "input"+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, asset.Body); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// extractAudio converts the media to 16kHz mono WAV, the input whisper.cpp expects.
func (w *whisperCPP) extractAudio(ctx context.Context, dir, mediaPath string) (string, error) {
	audioPath := filepath.Join(dir, "audio.wav")

	w.logger.Info(ctx, "Extracting audio: %s", filepath.Base(mediaPath))

	// -vn: drop video, -ar 16000 -ac 1: 16kHz mono, pcm_s16le: uncompressed
	args := []string{
		"-i", mediaPath,
		"-vn",
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"-threads", "0",
		"-y",
		audioPath,
	}

	if _, err := w.executor.Execute(ctx, w.cfg.FFmpegPath, args...); err != nil {
		return "", fmt.Errorf("ffmpeg extract audio: %w", err)
	}
	return audioPath, nil
}

// transcribe runs whisper.cpp and returns the plain-text transcript.
func (w *whisperCPP) transcribe(ctx context.Context, audioPath string) (string, error) {
	outputPrefix := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))
	language := w.cfg.Language
	if language == "" {
		language = "auto"
	}

	w.logger.Info(ctx, "Starting whisper.cpp with %d threads", w.cfg.Threads)

	// -otxt writes <prefix>.txt; -bo 5 trades speed for accuracy.
	args := []string{
		"-m", w.cfg.WhisperModel,
		"-f", audioPath,
		"-otxt",
		"-l", language,
		"-t", strconv.Itoa(w.cfg.Threads),
		"-bo", "5",
		"--output-file", outputPrefix,
	}
	if w.cfg.Prompt != "" {
		args = append(args, "--prompt", w.cfg.Prompt)
	}

	if _, err := w.executor.Execute(ctx, w.cfg.WhisperBinary, args...); err != nil {
		return "", fmt.Errorf("whisper transcribe: %w", err)
	}

	data, err := os.ReadFile(outputPrefix + ".txt")
	if err != nil {
		return "", fmt.Errorf("read whisper output: %w", err)
	}
	return strings.Join(strings.Fields(string(data)), " "), nil
}

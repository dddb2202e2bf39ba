package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"snapcal/internal/intake"
	"snapcal/internal/models"
)

const (
	defaultTesseractPath = "tesseract"
	defaultLanguage      = "eng"
)

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Adapter turns admitted images into transcripts using the tesseract engine.
type Adapter struct {
	logger        *slog.Logger
	tesseractPath string
	language      string
	tempRoot      string
	runner        commandRunner
}

// NewAdapter creates an adapter that runs the tesseract binary at path.
func NewAdapter(logger *slog.Logger, path, language string) *Adapter {
	if strings.TrimSpace(path) == "" {
		path = defaultTesseractPath
	}
	if strings.TrimSpace(language) == "" {
		language = defaultLanguage
	}
	return &Adapter{
		logger:        logger,
		tesseractPath: path,
		language:      language,
		runner:        &execRunner{},
	}
}

// Extract runs one recognition on img inside a scoped engine instance. The
// engine is released before Extract returns, on success and failure alike.
func (a *Adapter) Extract(ctx context.Context, img *intake.RawImage) (models.Transcript, error) {
	engine, err := a.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := engine.Close(); cerr != nil {
			a.logger.Warn("Failed to release OCR engine.", "error", cerr)
		}
	}()

	return engine.Recognize(ctx, img)
}

// Acquire initializes an engine instance. Callers must Close it.
func (a *Adapter) Acquire(ctx context.Context) (*Engine, error) {
	res, err := a.runner.Run(ctx, a.tesseractPath, "--version")
	if err != nil {
		return nil, &models.PipelineError{
			Stage:   models.StageOCR,
			Kind:    models.KindEngineUnavailable,
			Message: fmt.Sprintf("%s did not start (exit %d)", a.tesseractPath, res.ExitCode),
			Err:     err,
		}
	}

	workDir, err := os.MkdirTemp(a.tempRoot, "snapcal-ocr-*")
	if err != nil {
		return nil, &models.PipelineError{
			Stage:   models.StageOCR,
			Kind:    models.KindEngineUnavailable,
			Message: "failed to create engine workspace",
			Err:     err,
		}
	}

	a.logger.Debug("OCR engine initialized.", "engine", a.tesseractPath, "language", a.language)
	return &Engine{adapter: a, workDir: workDir}, nil
}

// Engine is one initialized recognition instance owning a private workspace.
type Engine struct {
	adapter *Adapter
	workDir string
	closed  bool
}

// Recognize transcribes img. Whitespace-only output is reported as EmptyResult.
func (e *Engine) Recognize(ctx context.Context, img *intake.RawImage) (models.Transcript, error) {
	if e.closed {
		return "", models.NewError(models.StageOCR, models.KindEngineUnavailable, "engine already released")
	}

	inputPath, err := e.stage(img)
	if err != nil {
		return "", &models.PipelineError{
			Stage:   models.StageOCR,
			Kind:    models.KindDecodeFailure,
			Message: "failed to read image payload",
			Err:     err,
		}
	}

	a := e.adapter
	args := []string{inputPath, "stdout", "-l", a.language}
	res, err := a.runner.Run(ctx, a.tesseractPath, args...)
	if err != nil {
		return "", &models.PipelineError{
			Stage:   models.StageOCR,
			Kind:    models.KindDecodeFailure,
			Message: fmt.Sprintf("recognition failed (exit %d): %s", res.ExitCode, strings.TrimSpace(res.Stderr)),
			Err:     err,
		}
	}

	transcript := models.Transcript(res.Stdout)
	if transcript.IsBlank() {
		return "", models.NewError(models.StageOCR, models.KindEmptyResult, "no text recognized")
	}

	a.logger.Info("Recognized text from image.", "image", img.Name(), "chars", len(res.Stdout))
	return transcript, nil
}

// Close removes the engine workspace. Calling it twice is harmless.
func (e *Engine) Close() error {
	if e == nil || e.closed {
		return nil
	}
	e.closed = true
	return os.RemoveAll(e.workDir)
}

// stage copies the image payload into the workspace and closes the handle.
func (e *Engine) stage(img *intake.RawImage) (string, error) {
	rc, err := img.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	path := filepath.Join(e.workDir, "input"+extensionFor(img.MediaType()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func extensionFor(mediaType string) string {
	if mediaType == "image/png" {
		return ".png"
	}
	return ".jpg"
}

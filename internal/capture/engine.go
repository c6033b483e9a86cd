// Package capture produces screenshot artifacts from prepared editor pages
// using two strategies: viewport capture of the editor itself, and full
// virtual-display capture through a display-media grant.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/rifahb/hopeless/internal/artifact"
	"github.com/rifahb/hopeless/internal/browser"
)

// ErrCaptureTimeout means the display-media grant or frame never became
// ready within the bounded polling rounds.
var ErrCaptureTimeout = errors.New("display capture timed out")

// Result is the outcome of one capture attempt. Callers must check Success
// explicitly; failures never panic past this boundary.
type Result struct {
	Success     bool
	Payload     string // tagged data-URL image payload
	StagingPath string
	Width       int
	Height      int
	Method      artifact.Method
	Elapsed     time.Duration
	Err         error
}

func failure(method artifact.Method, start time.Time, err error) Result {
	return Result{Method: method, Elapsed: time.Since(start), Err: err}
}

// Options configures an Engine.
type Options struct {
	StagingDir  string
	JPEGQuality int // 1-100, default 90

	// Display-capture polling: rounds x wait, with grant re-trigger on the
	// later rounds. Defaults: 8 rounds, 3s each.
	DisplayRounds    int
	DisplayRoundWait time.Duration
}

// Engine orchestrates both capture strategies.
type Engine struct {
	mgr    *browser.Manager
	driver *browser.Driver
	opts   Options
}

// New creates an Engine.
func New(mgr *browser.Manager, driver *browser.Driver, opts Options) *Engine {
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 90
	}
	if opts.DisplayRounds <= 0 {
		opts.DisplayRounds = 8
	}
	if opts.DisplayRoundWait <= 0 {
		opts.DisplayRoundWait = 3 * time.Second
	}
	return &Engine{mgr: mgr, driver: driver, opts: opts}
}

// ViewportRequest parameterizes an editor-viewport capture.
type ViewportRequest struct {
	EditorURL      string
	Password       string
	SampleFileName string
	SampleContent  string
}

// CaptureViewport drives the shared headless browser through the editor
// readiness sequence and takes a still of the visible viewport, sized to
// the detected system display resolution.
func (e *Engine) CaptureViewport(ctx context.Context, req ViewportRequest) Result {
	start := time.Now()

	b, err := e.mgr.Browser(ctx)
	if err != nil {
		return failure(artifact.MethodViewport, start, err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return failure(artifact.MethodViewport, start, fmt.Errorf("opening page: %w", err))
	}
	defer page.Close()

	width, height := DisplayResolution()
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return failure(artifact.MethodViewport, start, fmt.Errorf("setting viewport: %w", err))
	}

	report, err := e.driver.Prepare(page, browser.PrepareOptions{
		EditorURL:      req.EditorURL,
		Password:       req.Password,
		SampleFileName: req.SampleFileName,
		SampleContent:  req.SampleContent,
	})
	if err != nil {
		return failure(artifact.MethodViewport, start, err)
	}
	if !report.ContentReady {
		log.Printf("capture: proceeding without detected content for %s", req.EditorURL)
	}

	img, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: gson.Int(e.opts.JPEGQuality),
		Clip: &proto.PageViewport{
			X: 0, Y: 0,
			Width:  float64(width),
			Height: float64(height),
			Scale:  1,
		},
	})
	if err != nil {
		return failure(artifact.MethodViewport, start, fmt.Errorf("taking screenshot: %w", err))
	}

	payload := artifact.EncodePayload("jpeg", img)
	staging, err := e.stage(payload)
	if err != nil {
		return failure(artifact.MethodViewport, start, err)
	}

	return Result{
		Success:     true,
		Payload:     payload,
		StagingPath: staging,
		Width:       width,
		Height:      height,
		Method:      artifact.MethodViewport,
		Elapsed:     time.Since(start),
	}
}

// CaptureDisplay grabs one frame of the entire virtual display through a
// dedicated visible browser. The capture page requests a display-media
// stream, draws a frame to a canvas once stream metadata is ready, and
// stops all tracks immediately after.
func (e *Engine) CaptureDisplay(ctx context.Context) Result {
	start := time.Now()

	b, cleanup, err := e.mgr.NewVisibleBrowser(ctx)
	if err != nil {
		return failure(artifact.MethodDisplay, start, err)
	}
	defer cleanup()

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return failure(artifact.MethodDisplay, start, fmt.Errorf("opening capture page: %w", err))
	}
	if err := page.SetDocumentContent(displayCapturePage); err != nil {
		return failure(artifact.MethodDisplay, start, fmt.Errorf("loading capture page: %w", err))
	}

	payload, width, height, err := e.pollDisplayFrame(page)
	if err != nil {
		return failure(artifact.MethodDisplay, start, err)
	}

	staging, err := e.stage(payload)
	if err != nil {
		return failure(artifact.MethodDisplay, start, err)
	}

	return Result{
		Success:     true,
		Payload:     payload,
		StagingPath: staging,
		Width:       width,
		Height:      height,
		Method:      artifact.MethodDisplay,
		Elapsed:     time.Since(start),
	}
}

// pollDisplayFrame waits for the capture page to publish a frame, in
// bounded rounds. The grant trigger is re-fired from the halfway point in
// case the first request was swallowed before the page settled.
func (e *Engine) pollDisplayFrame(page *rod.Page) (payload string, width, height int, err error) {
	for round := 1; round <= e.opts.DisplayRounds; round++ {
		time.Sleep(e.opts.DisplayRoundWait)

		obj, evalErr := page.Eval(`() => window.__frame || ""`)
		if evalErr == nil {
			if frame := obj.Value.Str(); frame != "" {
				w, h := 0, 0
				if dims, dimErr := page.Eval(`() => [window.__width || 0, window.__height || 0]`); dimErr == nil {
					w = dims.Value.Arr()[0].Int()
					h = dims.Value.Arr()[1].Int()
				}
				return frame, w, h, nil
			}
		}

		if errObj, evalErr := page.Eval(`() => window.__err || ""`); evalErr == nil {
			if msg := errObj.Value.Str(); msg != "" {
				log.Printf("capture: display stream round %d: %s", round, msg)
			}
		}

		if round >= e.opts.DisplayRounds/2 {
			// Re-trigger the grant; some sessions drop the first request.
			_, _ = page.Eval(`() => { window.__err = null; window.__start(); }`)
		}
	}
	return "", 0, 0, fmt.Errorf("%w: no frame after %d rounds", ErrCaptureTimeout, e.opts.DisplayRounds)
}

// stage writes the payload to a local staging file. The file survives
// until the store confirms a durable write.
func (e *Engine) stage(payload string) (string, error) {
	f, err := os.CreateTemp(e.opts.StagingDir, "capture-*.b64")
	if err != nil {
		return "", fmt.Errorf("creating staging file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(payload); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("writing staging file: %w", err)
	}
	return f.Name(), nil
}

// displayCapturePage is the minimal page that negotiates a display-media
// grant, waits for stream metadata, and publishes exactly one frame as a
// tagged data URL. Tracks are stopped the moment the frame is drawn.
const displayCapturePage = `<!DOCTYPE html>
<html><body>
<video id="v" autoplay muted></video>
<canvas id="c"></canvas>
<script>
window.__frame = null;
window.__err = null;
window.__width = 0;
window.__height = 0;
window.__start = async () => {
  try {
    const stream = await navigator.mediaDevices.getDisplayMedia({ video: true });
    const v = document.getElementById('v');
    v.srcObject = stream;
    await new Promise((res) => { v.onloadedmetadata = res; });
    await v.play();
    const c = document.getElementById('c');
    c.width = v.videoWidth;
    c.height = v.videoHeight;
    c.getContext('2d').drawImage(v, 0, 0);
    window.__frame = c.toDataURL('image/jpeg', 0.9);
    window.__width = c.width;
    window.__height = c.height;
    stream.getTracks().forEach((t) => t.stop());
  } catch (e) {
    window.__err = String(e);
  }
};
window.__start();
</script>
</body></html>`

package capture

import (
	"context"
	"log"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// Fallback resolution when detection fails outright.
const (
	fallbackWidth  = 1920
	fallbackHeight = 1080
)

var (
	resolutionOnce sync.Once
	cachedWidth    int
	cachedHeight   int
)

// DisplayResolution returns the system display resolution, detected once
// and cached for the process lifetime. A resolution change after startup
// requires a restart to pick up; the proctoring hosts run fixed virtual
// displays so this is acceptable.
func DisplayResolution() (width, height int) {
	resolutionOnce.Do(func() {
		cachedWidth, cachedHeight = detectResolution()
		log.Printf("capture: display resolution %dx%d", cachedWidth, cachedHeight)
	})
	return cachedWidth, cachedHeight
}

// detectResolution shells out to xdpyinfo, then xrandr, then gives up and
// returns the documented 1920x1080 fallback.
func detectResolution() (int, int) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if out, err := exec.CommandContext(ctx, "xdpyinfo").Output(); err == nil {
		if w, h, ok := parseXdpyinfo(string(out)); ok {
			return w, h
		}
	}
	if out, err := exec.CommandContext(ctx, "xrandr", "--current").Output(); err == nil {
		if w, h, ok := parseXrandr(string(out)); ok {
			return w, h
		}
	}

	log.Printf("capture: display resolution detection failed, using %dx%d", fallbackWidth, fallbackHeight)
	return fallbackWidth, fallbackHeight
}

var xdpyinfoRe = regexp.MustCompile(`dimensions:\s+(\d+)x(\d+)\s+pixels`)

func parseXdpyinfo(out string) (int, int, bool) {
	m := xdpyinfoRe.FindStringSubmatch(out)
	if m == nil {
		return 0, 0, false
	}
	return atoiPair(m[1], m[2])
}

var xrandrRe = regexp.MustCompile(`current\s+(\d+)\s+x\s+(\d+)`)

func parseXrandr(out string) (int, int, bool) {
	m := xrandrRe.FindStringSubmatch(out)
	if m == nil {
		return 0, 0, false
	}
	return atoiPair(m[1], m[2])
}

func atoiPair(a, b string) (int, int, bool) {
	w, err1 := strconv.Atoi(a)
	h, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

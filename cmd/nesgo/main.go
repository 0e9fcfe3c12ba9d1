// Command nesgo runs an NES cartridge, either in its ebiten-driven
// screen/input loop or in the interactive bubbletea debugger.
package main

import (
	"context"
	"flag"
	"image"
	"image/color"
	"os"

	"github.com/golang/glog"
	"github.com/hajimehoshi/ebiten/v2"

	"github.com/cdriehuys/nesgo/internal/bus"
	"github.com/cdriehuys/nesgo/internal/cartridge"
	"github.com/cdriehuys/nesgo/internal/controller"
	"github.com/cdriehuys/nesgo/internal/debugger"
)

var (
	romPath = flag.String("rom", "", "Path to the .nes ROM to run.")
	debug   = flag.Bool("debug", false, "Run the interactive debugger instead of the screen driver.")
)

// keyMap is NES controller polling order (A, B, Select, Start, Up,
// Down, Left, Right) to ebiten keys, grounded on the teacher's
// console/controller.go key table.
var keyMap = []struct {
	key    ebiten.Key
	button uint8
}{
	{ebiten.KeyA, controller.ButtonA},
	{ebiten.KeyB, controller.ButtonB},
	{ebiten.KeySpace, controller.ButtonSelect},
	{ebiten.KeyEnter, controller.ButtonStart},
	{ebiten.KeyUp, controller.ButtonUp},
	{ebiten.KeyDown, controller.ButtonDown},
	{ebiten.KeyLeft, controller.ButtonLeft},
	{ebiten.KeyRight, controller.ButtonRight},
}

// game adapts *bus.Bus to the ebiten.Game interface. The bus itself
// stays free of any screen/input library dependency; this is the
// driver that owns both.
type game struct {
	bus *bus.Bus
	ctx context.Context
}

func (g *game) Update() error {
	var mask uint8
	for _, k := range keyMap {
		if ebiten.IsKeyPressed(k.key) {
			mask |= k.button
		}
	}
	g.bus.Pad1().SetState(mask)

	select {
	case <-g.ctx.Done():
		return g.ctx.Err()
	default:
	}

	// Run CPU/PPU cycles until a frame completes, so the screen
	// advances exactly one NES frame per ebiten Update call.
	for !g.bus.FrameDone() {
		g.bus.Step()
	}

	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	px := g.bus.Pixels()
	w, h := g.bus.Resolution()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			argb := px[y*w+x]
			img.Set(x, y, color.RGBA{
				R: uint8(argb >> 16),
				G: uint8(argb >> 8),
				B: uint8(argb),
				A: uint8(argb >> 24),
			})
		}
	}
	screen.WritePixels(img.Pix)
}

func (g *game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.bus.Resolution()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	if *romPath == "" {
		glog.Fatal("nesgo: -rom is required")
	}

	cart, err := cartridge.LoadINES(*romPath)
	if err != nil {
		glog.Fatalf("nesgo: loading %s: %v", *romPath, err)
	}
	glog.Infof("nesgo: loaded %s (mapper %d, mirroring %s)", *romPath, cart.MapperID(), cart.MirroringMode())

	b := bus.New(cart)
	b.Reset()

	if *debug {
		if err := debugger.Run(b); err != nil {
			glog.Fatalf("nesgo: debugger: %v", err)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, h := b.Resolution()
	ebiten.SetWindowSize(w*2, h*2)
	ebiten.SetWindowTitle("nesgo")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)

	g := &game{bus: b, ctx: ctx}
	if err := ebiten.RunGame(g); err != nil {
		glog.Errorf("nesgo: %v", err)
		cancel()
		os.Exit(1)
	}
}

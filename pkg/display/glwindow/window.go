// Package glwindow is the on-screen display: a GLFW window that shows camera
// frames as a textured quad and reports the keyboard. Every method must be
// called from the goroutine that called Open, with that goroutine locked to
// its OS thread.
package glwindow

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/open-teleop/carla-driver/domain/actor"
	"github.com/open-teleop/carla-driver/domain/control"
)

// Title of the window
const Title = "CARLA Manual Control"

// Window is a GLFW window with a streaming RGB texture
type Window struct {
	window  *glfw.Window
	width   int
	height  int
	program uint32
	vao     uint32
	vbo     uint32
	texture uint32
	texW    int
	texH    int
	drawn   bool
}

// Open creates a width x height window and its GL state
func Open(width, height int) (*Window, error) {
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("glfw init: %w", err)
	}

	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	glfw.WindowHint(glfw.Resizable, glfw.False)

	window, err := glfw.CreateWindow(width, height, Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("create window: %w", err)
	}
	window.MakeContextCurrent()
	// the session loop paces itself
	glfw.SwapInterval(0)

	if err := gl.Init(); err != nil {
		window.Destroy()
		glfw.Terminate()
		return nil, fmt.Errorf("gl init: %w", err)
	}

	w := &Window{window: window, width: width, height: height}
	if err := w.initGL(); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (w *Window) initGL() error {
	gl.Disable(gl.DEPTH_TEST)
	gl.Disable(gl.CULL_FACE)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.ClearColor(0, 0, 0, 1)

	program, err := linkProgram(blitVertexShader, blitFragmentShader)
	if err != nil {
		return err
	}
	w.program = program
	gl.UseProgram(program)
	gl.Uniform1i(gl.GetUniformLocation(program, gl.Str("uFrame\x00")), 0)

	// two triangles covering the viewport
	quad := []float32{
		-1, -1, 1, -1, 1, 1,
		-1, -1, 1, 1, -1, 1,
	}
	gl.GenVertexArrays(1, &w.vao)
	gl.GenBuffers(1, &w.vbo)
	gl.BindVertexArray(w.vao)
	gl.BindBuffer(gl.ARRAY_BUFFER, w.vbo)
	gl.BufferData(gl.ARRAY_BUFFER, len(quad)*4, gl.Ptr(&quad[0]), gl.STATIC_DRAW)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointer(0, 2, gl.FLOAT, false, 2*4, gl.PtrOffset(0))

	gl.GenTextures(1, &w.texture)
	gl.BindTexture(gl.TEXTURE_2D, w.texture)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	return nil
}

// Blit uploads fb and draws it with its top-left corner at (x, y) in window
// coordinates.
func (w *Window) Blit(fb *actor.FrameBuffer, x, y int) {
	if fb == nil || len(fb.Pix) < fb.Width*fb.Height*3 {
		return
	}

	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D, w.texture)
	if fb.Width != w.texW || fb.Height != w.texH {
		gl.TexImage2D(gl.TEXTURE_2D, 0, int32(gl.RGB8), int32(fb.Width), int32(fb.Height), 0, gl.RGB, gl.UNSIGNED_BYTE, gl.Ptr(&fb.Pix[0]))
		w.texW, w.texH = fb.Width, fb.Height
	} else {
		gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(fb.Width), int32(fb.Height), gl.RGB, gl.UNSIGNED_BYTE, gl.Ptr(&fb.Pix[0]))
	}

	// framebuffer pixels differ from window coordinates on HiDPI screens
	fbW, fbH := w.window.GetFramebufferSize()
	sx := float64(fbW) / float64(w.width)
	sy := float64(fbH) / float64(w.height)
	vx := int32(float64(x) * sx)
	vy := int32(float64(w.height-y-fb.Height) * sy)
	gl.Viewport(vx, vy, int32(float64(fb.Width)*sx), int32(float64(fb.Height)*sy))

	if !w.drawn {
		gl.Clear(gl.COLOR_BUFFER_BIT)
		w.drawn = true
	}
	gl.UseProgram(w.program)
	gl.BindVertexArray(w.vao)
	gl.DrawArrays(gl.TRIANGLES, 0, 6)
}

// Present swaps the buffers
func (w *Window) Present() {
	if !w.drawn {
		gl.Clear(gl.COLOR_BUFFER_BIT)
	}
	w.window.SwapBuffers()
	w.drawn = false
}

// PollEvents processes pending window events
func (w *Window) PollEvents() {
	glfw.PollEvents()
}

// ShouldClose reports whether the user closed the window
func (w *Window) ShouldClose() bool {
	return w.window.ShouldClose()
}

// KeyDown reports whether k is held
func (w *Window) KeyDown(k control.Key) bool {
	key, ok := glfwKeys[k]
	if !ok {
		return false
	}
	return w.window.GetKey(key) == glfw.Press
}

// Close releases the GL objects and the window
func (w *Window) Close() {
	if w.texture != 0 {
		gl.DeleteTextures(1, &w.texture)
	}
	if w.vbo != 0 {
		gl.DeleteBuffers(1, &w.vbo)
	}
	if w.vao != 0 {
		gl.DeleteVertexArrays(1, &w.vao)
	}
	if w.program != 0 {
		gl.DeleteProgram(w.program)
	}
	w.window.Destroy()
	glfw.Terminate()
}

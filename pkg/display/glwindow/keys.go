package glwindow

import (
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/open-teleop/carla-driver/domain/control"
)

var glfwKeys = map[control.Key]glfw.Key{
	control.KeyEscape:       glfw.KeyEscape,
	control.KeyQ:            glfw.KeyQ,
	control.KeyW:            glfw.KeyW,
	control.KeyA:            glfw.KeyA,
	control.KeyS:            glfw.KeyS,
	control.KeyD:            glfw.KeyD,
	control.KeyP:            glfw.KeyP,
	control.KeyUp:           glfw.KeyUp,
	control.KeyDown:         glfw.KeyDown,
	control.KeyLeft:         glfw.KeyLeft,
	control.KeyRight:        glfw.KeyRight,
	control.KeySpace:        glfw.KeySpace,
	control.KeyLeftControl:  glfw.KeyLeftControl,
	control.KeyRightControl: glfw.KeyRightControl,
}

package render

import "github.com/pkg/errors"

// SwapchainOutOfDateError is returned from Swapchain.GetNextImage and
// Swapchain.Present when the underlying surface no longer matches the
// swapchain, typically because the window was resized. The caller should
// call Resize and then retry the acquire- resizing does not re-acquire on
// its own.
var SwapchainOutOfDateError error = errors.New("swapchain is out of date with its surface")

// WindowInUseError is returned from Renderer.CreateWindow when the OS window
// is already bound to a live swapchain.
var WindowInUseError error = errors.New("window already has a swapchain")

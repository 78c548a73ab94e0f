package main

// The demo loads compiled SPIR-V from the shaders directory at startup.
// Rebuild the binaries after editing the GLSL sources:

//go:generate glslc shaders/rect.vert -o shaders/rect.vert.spv
//go:generate glslc shaders/rect.frag -o shaders/rect.frag.spv

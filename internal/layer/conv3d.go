package layer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/neurolab/wmhgan/internal/activations"
)

// Conv3D implements a valid (unpadded) 3D convolution with stride 1.
// Input and output are flattened channels-first: [channel][z][y][x].
type Conv3D struct {
	inChannels  int
	outChannels int
	kernelSize  int

	inDims  [3]int // depth, height, width
	outDims [3]int

	// Weights: [outChannels, inChannels, k, k, k] followed by outChannels biases
	params []float64
	grads  []float64
	nW     int

	activation activations.Activation

	// Pre-allocated buffers
	preActBuf  []float64
	outputBuf  []float64
	dzBuf      []float64
	gradInBuf  []float64
	savedInput []float64
}

// NewConv3D creates a 3D convolutional layer for inputs of inDims (depth,
// height, width). It panics if the kernel does not fit in the input.
func NewConv3D(inChannels, outChannels, kernelSize int, inDims [3]int,
	activation activations.Activation) *Conv3D {

	var outDims [3]int
	for i, d := range inDims {
		outDims[i] = d - kernelSize + 1
		if outDims[i] < 1 {
			panic(fmt.Sprintf("Conv3D: kernel %d does not fit input %v", kernelSize, inDims))
		}
	}

	k3 := kernelSize * kernelSize * kernelSize
	nW := outChannels * inChannels * k3
	params := make([]float64, nW+outChannels)

	// He initialization (better for ReLU)
	rng := nextRNG()
	scale := math.Sqrt(6.0 / float64(inChannels*k3))
	for i := 0; i < nW; i++ {
		params[i] = rng.Float64()*2*scale - scale
	}

	inSize := inChannels * inDims[0] * inDims[1] * inDims[2]
	outSize := outChannels * outDims[0] * outDims[1] * outDims[2]
	return &Conv3D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		inDims:      inDims,
		outDims:     outDims,
		params:      params,
		grads:       make([]float64, len(params)),
		nW:          nW,
		activation:  activation,
		preActBuf:   make([]float64, outSize),
		outputBuf:   make([]float64, outSize),
		dzBuf:       make([]float64, outSize),
		gradInBuf:   make([]float64, inSize),
		savedInput:  make([]float64, inSize),
	}
}

// Forward performs a forward pass through the convolutional layer.
func (c *Conv3D) Forward(input []float64) []float64 {
	if len(input) != len(c.savedInput) {
		panic(fmt.Sprintf("Conv3D: input length %d, want %d", len(input), len(c.savedInput)))
	}
	copy(c.savedInput, input)

	inD, inH, inW := c.inDims[0], c.inDims[1], c.inDims[2]
	outD, outH, outW := c.outDims[0], c.outDims[1], c.outDims[2]
	k := c.kernelSize
	inVol := inD * inH * inW
	outVol := outD * outH * outW

	for i := range c.preActBuf {
		c.preActBuf[i] = 0
	}

	w := 0
	for oc := 0; oc < c.outChannels; oc++ {
		outBase := oc * outVol
		for ic := 0; ic < c.inChannels; ic++ {
			inBase := ic * inVol
			for kz := 0; kz < k; kz++ {
				for ky := 0; ky < k; ky++ {
					for kx := 0; kx < k; kx++ {
						wVal := c.params[w]
						w++
						for oz := 0; oz < outD; oz++ {
							for oy := 0; oy < outH; oy++ {
								outRow := outBase + (oz*outH+oy)*outW
								inRow := inBase + ((oz+kz)*inH+oy+ky)*inW + kx
								floats.AddScaled(c.preActBuf[outRow:outRow+outW], wVal, input[inRow:inRow+outW])
							}
						}
					}
				}
			}
		}

		bias := c.params[c.nW+oc]
		for pos := outBase; pos < outBase+outVol; pos++ {
			z := c.preActBuf[pos] + bias
			c.preActBuf[pos] = z
			c.outputBuf[pos] = c.activation.Activate(z)
		}
	}

	return c.outputBuf
}

// Backward accumulates kernel and bias gradients and returns dL/dinput.
func (c *Conv3D) Backward(grad []float64) []float64 {
	inD, inH, inW := c.inDims[0], c.inDims[1], c.inDims[2]
	outD, outH, outW := c.outDims[0], c.outDims[1], c.outDims[2]
	k := c.kernelSize
	inVol := inD * inH * inW
	outVol := outD * outH * outW

	for i := range c.gradInBuf {
		c.gradInBuf[i] = 0
	}
	for pos := range c.dzBuf {
		c.dzBuf[pos] = grad[pos] * c.activation.Derivative(c.preActBuf[pos])
	}

	w := 0
	for oc := 0; oc < c.outChannels; oc++ {
		outBase := oc * outVol
		c.grads[c.nW+oc] += floats.Sum(c.dzBuf[outBase : outBase+outVol])

		for ic := 0; ic < c.inChannels; ic++ {
			inBase := ic * inVol
			for kz := 0; kz < k; kz++ {
				for ky := 0; ky < k; ky++ {
					for kx := 0; kx < k; kx++ {
						wVal := c.params[w]
						var gw float64
						for oz := 0; oz < outD; oz++ {
							for oy := 0; oy < outH; oy++ {
								outRow := outBase + (oz*outH+oy)*outW
								inRow := inBase + ((oz+kz)*inH+oy+ky)*inW + kx
								dz := c.dzBuf[outRow : outRow+outW]
								gw += floats.Dot(dz, c.savedInput[inRow:inRow+outW])
								floats.AddScaled(c.gradInBuf[inRow:inRow+outW], wVal, dz)
							}
						}
						c.grads[w] += gw
						w++
					}
				}
			}
		}
	}

	return c.gradInBuf
}

// Params returns the kernels followed by the biases.
func (c *Conv3D) Params() []float64 { return c.params }

// SetParams copies kernels and biases from a flattened slice.
func (c *Conv3D) SetParams(params []float64) { copy(c.params, params) }

// Gradients returns the accumulated gradients.
func (c *Conv3D) Gradients() []float64 { return c.grads }

// ClearGradients zeroes out the accumulated gradients.
func (c *Conv3D) ClearGradients() {
	for i := range c.grads {
		c.grads[i] = 0
	}
}

// InChannels returns the number of input channels.
func (c *Conv3D) InChannels() int { return c.inChannels }

// OutChannels returns the number of output feature maps.
func (c *Conv3D) OutChannels() int { return c.outChannels }

// KernelSize returns the cubic kernel width.
func (c *Conv3D) KernelSize() int { return c.kernelSize }

// InDims returns the spatial input dimensions.
func (c *Conv3D) InDims() [3]int { return c.inDims }

// OutDims returns the spatial output dimensions.
func (c *Conv3D) OutDims() [3]int { return c.outDims }

// OutSize returns the flattened output length.
func (c *Conv3D) OutSize() int { return len(c.outputBuf) }

// Activation returns the activation function.
func (c *Conv3D) Activation() activations.Activation { return c.activation }

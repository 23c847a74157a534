// Package activations provides the element-wise activation functions used by
// the segmentation and discriminator networks.
package activations

import "math"

// Activation is an activation function with derivative.
type Activation interface {
	// Activate computes f(x)
	Activate(x float64) float64

	// Derivative computes f'(x) from the pre-activation value x.
	Derivative(x float64) float64
}

// ReLU activation function.
type ReLU struct{}

// Activate computes max(0, x)
func (r ReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// Derivative returns 1 if x > 0, else 0
func (r ReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

// Sigmoid activation function.
type Sigmoid struct{}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Activate computes sigmoid(x)
func (s Sigmoid) Activate(x float64) float64 {
	return sigmoid(x)
}

// Derivative computes sigmoid(x) * (1 - sigmoid(x))
func (s Sigmoid) Derivative(x float64) float64 {
	sigma := sigmoid(x)
	return sigma * (1 - sigma)
}

// Linear is the identity activation, used for logits feeding a Softmax layer.
type Linear struct{}

// Activate returns x unchanged.
func (l Linear) Activate(x float64) float64 {
	return x
}

// Derivative is always 1.
func (l Linear) Derivative(x float64) float64 {
	return 1
}

// Softmax is a vector activation and only implements ActivateBatch.
type Softmax struct{}

// ActivateBatch computes softmax for a slice of values, writing into dst.
// dst may alias x.
func (s Softmax) ActivateBatch(x, dst []float64) []float64 {
	// Find max for numerical stability
	maxVal := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxVal {
			maxVal = x[i]
		}
	}

	sum := 0.0
	for i := range x {
		dst[i] = math.Exp(x[i] - maxVal)
		sum += dst[i]
	}
	for i := range dst[:len(x)] {
		dst[i] /= sum
	}
	return dst[:len(x)]
}

// Name returns the serialisation name of an activation.
func Name(act Activation) string {
	switch act.(type) {
	case ReLU:
		return "ReLU"
	case Sigmoid:
		return "Sigmoid"
	case Linear:
		return "Linear"
	default:
		return "Unknown"
	}
}

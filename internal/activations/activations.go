// Package activations provides activation functions and their lookup by name.
package activations

import (
	"fmt"
	"math"
	"strings"
)

// Activation is an activation function with derivative.
type Activation interface {
	// Activate computes f(x)
	Activate(x float32) float32

	// Derivative computes f'(x) from the pre-activation x
	Derivative(x float32) float32
}

// ReLU activation function.
type ReLU struct{}

// Activate computes max(0, x)
func (r ReLU) Activate(x float32) float32 {
	if x > 0 {
		return x
	}
	return 0
}

// Derivative returns 1 if x > 0, else 0
func (r ReLU) Derivative(x float32) float32 {
	if x > 0 {
		return 1
	}
	return 0
}

// Sigmoid activation function.
type Sigmoid struct{}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// Activate computes sigmoid(x)
func (s Sigmoid) Activate(x float32) float32 {
	return sigmoid(x)
}

// Derivative computes sigmoid(x) * (1 - sigmoid(x))
func (s Sigmoid) Derivative(x float32) float32 {
	sigma := sigmoid(x)
	return sigma * (1 - sigma)
}

// LeakyReLU activation function to prevent dying neurons.
type LeakyReLU struct {
	Alpha float32 // Slope for x <= 0
}

// NewLeakyReLU creates a LeakyReLU with the given alpha value.
func NewLeakyReLU(alpha float32) *LeakyReLU {
	return &LeakyReLU{Alpha: alpha}
}

// Activate computes x if x > 0, else alpha*x
func (l *LeakyReLU) Activate(x float32) float32 {
	if x > 0 {
		return x
	}
	return l.Alpha * x
}

// Derivative returns 1 if x > 0, else alpha
func (l *LeakyReLU) Derivative(x float32) float32 {
	if x > 0 {
		return 1
	}
	return l.Alpha
}

// ELU activation function.
type ELU struct {
	Alpha float32
}

// NewELU creates an ELU with the given alpha value.
func NewELU(alpha float32) *ELU {
	return &ELU{Alpha: alpha}
}

// Activate computes x if x > 0, else alpha*(exp(x)-1)
func (e *ELU) Activate(x float32) float32 {
	if x > 0 {
		return x
	}
	return e.Alpha * float32(math.Expm1(float64(x)))
}

// Derivative returns 1 if x > 0, else alpha*exp(x)
func (e *ELU) Derivative(x float32) float32 {
	if x > 0 {
		return 1
	}
	return e.Alpha * float32(math.Exp(float64(x)))
}

// Tanh activation function.
type Tanh struct{}

// Activate computes tanh(x)
func (t Tanh) Activate(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// Derivative computes 1 - tanh(x)^2
func (t Tanh) Derivative(x float32) float32 {
	tanhX := float32(math.Tanh(float64(x)))
	return 1 - tanhX*tanhX
}

// Linear is the identity activation.
type Linear struct{}

// Activate returns x unchanged.
func (l Linear) Activate(x float32) float32 {
	return x
}

// Derivative returns 1.
func (l Linear) Derivative(x float32) float32 {
	return 1
}

// Softsign computes x / (1 + |x|).
type Softsign struct{}

// Activate computes x / (1 + |x|)
func (s Softsign) Activate(x float32) float32 {
	return x / (1 + float32(math.Abs(float64(x))))
}

// Derivative computes 1 / (1 + |x|)^2
func (s Softsign) Derivative(x float32) float32 {
	d := 1 + float32(math.Abs(float64(x)))
	return 1 / (d * d)
}

// Get returns the activation registered under name. Names are case
// insensitive; "" and "identity" map to Linear.
func Get(name string) (Activation, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "tanh":
		return Tanh{}, nil
	case "sigmoid", "logistic":
		return Sigmoid{}, nil
	case "relu":
		return ReLU{}, nil
	case "lrelu", "leaky_relu":
		return NewLeakyReLU(0.01), nil
	case "elu":
		return NewELU(1), nil
	case "softsign":
		return Softsign{}, nil
	case "", "identity", "linear":
		return Linear{}, nil
	}
	return nil, fmt.Errorf("activations: unknown activation %q", name)
}

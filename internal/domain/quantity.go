package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxQuantity is the largest quantity a single line accepts (four digits).
const MaxQuantity = 9999

var (
	ErrQuantityEmpty      = errors.New("quantity is required")
	ErrQuantityNotInteger = errors.New("quantity must be a whole number")
	ErrQuantityZero       = errors.New("quantity must be greater than zero")
	ErrQuantityTooLarge   = fmt.Errorf("quantity must not exceed %d", MaxQuantity)
)

// ParseQuantity parses a quantity as typed by an operator. It accepts only
// whole numbers in [1, MaxQuantity]; surrounding whitespace is ignored.
func ParseQuantity(input string) (int, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, ErrQuantityEmpty
	}
	if strings.HasPrefix(s, "+") {
		return 0, ErrQuantityNotInteger
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return 0, ErrQuantityTooLarge
		}
		return 0, ErrQuantityNotInteger
	}

	switch {
	case n < 0:
		return 0, ErrQuantityNotInteger
	case n == 0:
		return 0, ErrQuantityZero
	case n > MaxQuantity:
		return 0, ErrQuantityTooLarge
	}
	return n, nil
}

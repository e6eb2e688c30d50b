package model

import "errors"

var (
	ErrAlreadyBooked    = errors.New("slot is already booked")
	ErrAlreadyAvailable = errors.New("slot is already available")
	ErrAlreadyCancelled = errors.New("appointment is already cancelled")
	ErrNotCancellable   = errors.New("appointment cannot be cancelled")
)

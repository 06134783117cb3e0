package repository

import "errors"

var (
	ErrTenantNotFound = errors.New("shop not found")
	ErrTenantExists   = errors.New("shop already exists")
)

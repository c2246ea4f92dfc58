package order

import "errors"

var (
	ErrOnlyPharmaciesPrepare = errors.New("only pharmacies are allowed to prepare orders")
	ErrPharmacyNotCaller     = errors.New("provided pharmacy must be the one calling this function")
	ErrArrayLengthMismatch   = errors.New("arrays should have the same lengths")
	ErrOnlyPharmaciesReady   = errors.New("only pharmacies are allowed to make orders ready")
	ErrOrderDoesNotExist     = errors.New("order does not exist")
	ErrOnlyPatients          = errors.New("only patients are allowed to check their order price")
	ErrNotYourOrder          = errors.New("this order has not been prepared for you")
	ErrOrderNotReady         = errors.New("order must be made ready by pharmacy")
	ErrWrongPayment          = errors.New("amount sent must be equal to order total price")
	ErrOrderAlreadyPaid      = errors.New("order has already been paid")
)

package folio

import (
	"errors"

	"goflare.io/folio/internal/models"
	"goflare.io/folio/internal/resilience"
)

var (
	ErrAlreadyStarted = errors.New("background jobs already started")

	ErrNoFetcher         = models.ErrNoFetcher
	ErrSymbolNotFound    = models.ErrSymbolNotFound
	ErrPortfolioNotFound = models.ErrPortfolioNotFound
	ErrCircuitOpen       = resilience.ErrCircuitOpen
)

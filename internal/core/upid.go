package core

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"io"
	"regexp"
)

const (
	upidLetters  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	upidDigits   = "0123456789"
	upidAttempts = 5
)

var upidPattern = regexp.MustCompile(`^[A-Z]{4}[0-9]{4}$`)

// ValidateFormat checks the 4-letter 4-digit shape without a lookup.
func ValidateFormat(code string) bool {
	return upidPattern.MatchString(code)
}

// Querier is satisfied by *sql.DB and *sql.Tx, so UPID uniqueness can
// be checked inside the position-assignment transaction.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// UPIDGenerator produces single-use print codes: 4 uppercase letters
// followed by 4 digits.
type UPIDGenerator struct {
	rand     io.Reader
	attempts int
}

func NewUPIDGenerator() *UPIDGenerator {
	return &UPIDGenerator{rand: rand.Reader, attempts: upidAttempts}
}

// Generate draws codes until one does not collide with an existing
// job's UPID. After the attempt budget it fails with ErrUPIDExhausted:
// the keyspace is under pressure and the request must surface that.
func (g *UPIDGenerator) Generate(ctx context.Context, q Querier) (string, error) {
	for i := 0; i < g.attempts; i++ {
		code, err := g.draw()
		if err != nil {
			return "", fmt.Errorf("failed to draw upid: %w", err)
		}

		var exists int
		err = q.QueryRowContext(ctx, "SELECT COUNT(*) FROM print_jobs WHERE upid = ?", code).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("failed to check upid uniqueness: %w", err)
		}
		if exists == 0 {
			return code, nil
		}
	}
	return "", ErrUPIDExhausted
}

func (g *UPIDGenerator) draw() (string, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", err
	}

	code := make([]byte, 8)
	for i := 0; i < 4; i++ {
		code[i] = upidLetters[int(buf[i])%len(upidLetters)]
	}
	for i := 4; i < 8; i++ {
		code[i] = upidDigits[int(buf[i])%len(upidDigits)]
	}
	return string(code), nil
}

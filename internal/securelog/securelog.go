// Package securelog writes log lines that never carry user-provided data:
// no message bodies, tokens, or usernames.
package securelog

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"runtime"
	"strings"
)

// Error logs err by its caller location and type chain only. The error text
// is dropped because storage and transport errors can echo user input.
func Error(op string, err error) {
	if err == nil {
		return
	}
	loc := callerLocation(2)
	chain := strings.Join(errorTypes(err), "->")
	if op == "" {
		log.Printf("error at %s types=%s", loc, chain)
		return
	}
	log.Printf("error op=%s at %s types=%s", op, loc, chain)
}

// Ref returns a short, stable digest of an identifier so log lines about the
// same user or conversation can be correlated without naming it.
func Ref(id string) string {
	if id == "" {
		return "-"
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:6])
}

func callerLocation(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	name := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = fn.Name()
	}
	return fmt.Sprintf("%s:%d %s", file, line, name)
}

func errorTypes(err error) []string {
	var types []string
	seen := map[string]bool{}
	for err != nil {
		name := fmt.Sprintf("%T", err)
		if !seen[name] {
			seen[name] = true
			types = append(types, name)
		}
		err = errors.Unwrap(err)
	}
	return types
}

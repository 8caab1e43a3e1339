package core

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var ErrPrintDispatchFailed = errors.New("print dispatch failed")

// Printer submits a local file to a physical printer. Implementations treat
// a timeout on the passed context like any other dispatch failure.
type Printer interface {
	Print(ctx context.Context, localPath, colorMode, pageSize string) error
}

// LpPrinter dispatches through the CUPS `lp` command.
type LpPrinter struct {
	PrinterName string
}

var _ Printer = (*LpPrinter)(nil)

func (p *LpPrinter) Print(ctx context.Context, localPath, colorMode, pageSize string) error {
	if p.PrinterName == "" {
		return fmt.Errorf("%w: printer name not configured", ErrPrintDispatchFailed)
	}

	args := []string{"-d", p.PrinterName}
	if pageSize != "" {
		args = append(args, "-o", "media="+pageSize)
	}
	switch colorMode {
	case "color":
		args = append(args, "-o", "ColorModel=CMYK")
	case "bw":
		args = append(args, "-o", "ColorModel=Gray")
	}
	args = append(args, localPath)

	output, err := exec.CommandContext(ctx, "lp", args...).CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("%w: %s", ErrPrintDispatchFailed, detail)
	}
	return nil
}

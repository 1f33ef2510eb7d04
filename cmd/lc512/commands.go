package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"lc512/eeprom"
)

var hexSeparators = strings.NewReplacer(":", "", " ", "")

// parseOffset accepts decimal, 0x hex or 0 octal offsets within the device.
func parseOffset(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	return uint16(v), nil
}

func parseLength(s string) (int, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid length %q", s)
	}
	return int(v), nil
}

func (a *app) readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <offset> [length]",
		Short: "Print a hex dump of a range",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := parseOffset(args[0])
			if err != nil {
				return err
			}
			n := 16
			if len(args) == 2 {
				if n, err = parseLength(args[1]); err != nil {
					return err
				}
			}

			s, err := a.openDevice(cmd)
			if err != nil {
				return err
			}
			buf := make([]byte, n)
			if err := s.dev.ReadData(offset, buf); err != nil {
				return err
			}
			return writeHexDump(cmd.OutOrStdout(), int(offset), buf)
		},
	}
}

func (a *app) writeCmd() *cobra.Command {
	var text bool

	cmd := &cobra.Command{
		Use:   "write <offset> <data>",
		Short: "Write hex bytes (or a string with --string) at an offset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := parseOffset(args[0])
			if err != nil {
				return err
			}

			var data []byte
			if text {
				data = []byte(args[1])
			} else {
				data, err = hex.DecodeString(hexSeparators.Replace(args[1]))
				if err != nil {
					return fmt.Errorf("invalid hex data: %w", err)
				}
			}

			s, err := a.openDevice(cmd)
			if err != nil {
				return err
			}
			if err := s.dev.WriteData(offset, data); err != nil {
				return err
			}
			if err := s.check(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes at 0x%04x\n", len(data), offset)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&text, "string", "s", false, "Treat data as a literal string")
	return cmd
}

func (a *app) dumpCmd() *cobra.Command {
	var offset uint16
	var length int

	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Copy the array (or part of it) to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if int(offset) >= eeprom.Capacity {
				return eeprom.ErrOutOfRange
			}
			if length <= 0 {
				length = eeprom.Capacity - int(offset)
			} else if int(offset)+length > eeprom.Capacity {
				return eeprom.ErrTooMuchData
			}

			s, err := a.openDevice(cmd)
			if err != nil {
				return err
			}

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			src := io.NewSectionReader(&s.dev, int64(offset), int64(length))
			n, err := io.CopyBuffer(struct{ io.Writer }{f}, src, make([]byte, 32*eeprom.PageSize))
			if err != nil {
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dumped %d bytes from 0x%04x to %s\n", n, offset, args[0])
			return nil
		},
	}
	cmd.Flags().Uint16VarP(&offset, "offset", "o", 0, "First byte to copy")
	cmd.Flags().IntVarP(&length, "length", "n", 0, "Bytes to copy, 0 for the rest of the device")
	return cmd
}

func (a *app) loadCmd() *cobra.Command {
	var offset uint16

	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Program a file into the array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			s, err := a.openDevice(cmd)
			if err != nil {
				return err
			}
			n, err := s.dev.WriteAt(data, int64(offset))
			if err != nil {
				return fmt.Errorf("after %d bytes: %w", n, err)
			}
			if err := s.check(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d bytes at 0x%04x\n", n, offset)
			return nil
		},
	}
	cmd.Flags().Uint16VarP(&offset, "offset", "o", 0, "Destination offset")
	return cmd
}

// writeHexDump prints data in the canonical hexdump -C layout with
// addresses starting at base.
func writeHexDump(w io.Writer, base int, data []byte) error {
	var ascii [16]byte
	for line := 0; line < len(data); line += 16 {
		end := line + 16
		if end > len(data) {
			end = len(data)
		}
		row := data[line:end]

		var b strings.Builder
		fmt.Fprintf(&b, "%08x ", base+line)
		for i := 0; i < 16; i++ {
			if i == 8 {
				b.WriteByte(' ')
			}
			if i < len(row) {
				fmt.Fprintf(&b, " %02x", row[i])
			} else {
				b.WriteString("   ")
			}
		}
		for i, c := range row {
			if c < 0x20 || c > 0x7e {
				c = '.'
			}
			ascii[i] = c
		}
		fmt.Fprintf(&b, "  |%s|\n", ascii[:len(row)])

		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}

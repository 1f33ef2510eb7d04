// Command lc512 reads and programs a 24LC512 EEPROM from a Linux host,
// either on a local i2c-dev bus or through a Klipper MCU.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"lc512/core"
	"lc512/host/config"
)

// app carries the state shared by every command of one invocation.
type app struct {
	configPath string
	backend    string
	device     string
	address    uint16
	wpPin      int
	verbose    bool

	open sessionOpener
	sess *session
}

// sessionFlags select the device and only take effect when it is opened.
var sessionFlags = []string{"config", "backend", "device", "address", "wp-pin"}

func newApp(open sessionOpener) *app {
	return &app{open: open, wpPin: config.NoPin}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lc512",
		Short:         "Read and program a 24LC512 serial EEPROM",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.sess != nil {
				for _, name := range sessionFlags {
					if cmd.Flags().Changed(name) {
						return fmt.Errorf("--%s cannot change the open device; restart the shell", name)
					}
				}
			}
			if a.verbose {
				stderr := cmd.ErrOrStderr()
				core.SetDebugWriter(func(s string) { fmt.Fprintln(stderr, s) })
				core.SetDebugEnabled(true)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "JSON configuration file")
	flags.StringVar(&a.backend, "backend", "", "Backend: linux or klipper")
	flags.StringVarP(&a.device, "device", "d", "", "i2c-dev node or MCU serial port")
	flags.Uint16VarP(&a.address, "address", "a", 0, "7-bit device address")
	flags.IntVar(&a.wpPin, "wp-pin", config.NoPin, "Write-protect GPIO, -1 if not wired")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Trace bus traffic to stderr")

	root.AddCommand(
		a.readCmd(),
		a.writeCmd(),
		a.dumpCmd(),
		a.loadCmd(),
		a.shellCmd(),
	)
	return root
}

// loadConfig reads the configuration file, if any, and applies flag
// overrides on top.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if a.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(a.configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = a.backend
		if !flags.Changed("device") && a.configPath == "" {
			// let the backend pick its own default device
			cfg.Device = ""
		}
	}
	if flags.Changed("device") {
		cfg.Device = a.device
	}
	if flags.Changed("address") {
		cfg.Address = a.address
	}
	if flags.Changed("wp-pin") {
		pin := a.wpPin
		cfg.WPPin = &pin
	}

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openDevice opens the session on first use; the shell keeps it open across
// commands.
func (a *app) openDevice(cmd *cobra.Command) (*session, error) {
	if a.sess != nil {
		return a.sess, nil
	}
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	s, err := a.open(cfg)
	if err != nil {
		return nil, err
	}
	a.sess = s
	return s, nil
}

func (a *app) close() error {
	if a.sess == nil {
		return nil
	}
	err := a.sess.Close()
	a.sess = nil
	return err
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer, open sessionOpener) int {
	a := newApp(open)
	defer a.close()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, openSession))
}

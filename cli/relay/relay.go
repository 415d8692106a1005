package relay

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytelane/sluice"
	"github.com/bytelane/sluice/common"
	E "github.com/bytelane/sluice/common/exceptions"
	"github.com/bytelane/sluice/common/log"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Flags is the relay configuration, settable from the command line or a
// JSON configuration file. Command-line values win over file values.
type Flags struct {
	Listen         string `json:"listen"`
	ListenPort     uint16 `json:"listen_port"`
	Upstream       string `json:"upstream"`
	Timeout        uint32 `json:"timeout"`
	ConnectTimeout uint32 `json:"connect_timeout"`
	BufferSize     int    `json:"buffer_size"`
	MaxPipes       int    `json:"max_pipes"`
	NoSplice       bool   `json:"no_splice"`
	Verbose        bool   `json:"verbose"`
	ConfigFile     string `json:"-"`
}

func MainCmd() *cobra.Command {
	flags := new(Flags)

	cmd := &cobra.Command{
		Use:     "sluice",
		Short:   "zero-copy TCP relay",
		Version: sluice.Version,
		Run: func(cmd *cobra.Command, args []string) {
			Run(flags)
		},
	}

	cmd.Flags().StringVarP(&flags.Listen, "listen", "b", "", "Set the listen address.")
	cmd.Flags().Uint16VarP(&flags.ListenPort, "listen-port", "l", 0, "Set the listen port number.")
	cmd.Flags().StringVarP(&flags.Upstream, "upstream", "u", "", "Set the upstream address as IP:port.")
	cmd.Flags().Uint32VarP(&flags.Timeout, "timeout", "t", 0, "Set the transfer timeout in seconds, 0 to disable.")
	cmd.Flags().Uint32Var(&flags.ConnectTimeout, "connect-timeout", 0, "Set the upstream connect timeout in seconds.")
	cmd.Flags().IntVar(&flags.BufferSize, "buffer-size", 0, "Set the per-direction buffer size in bytes.")
	cmd.Flags().IntVar(&flags.MaxPipes, "max-pipes", 0, "Limit the kernel channels held for zero-copy transfers.")
	cmd.Flags().BoolVar(&flags.NoSplice, "no-splice", false, "Disable zero-copy transfers.")
	cmd.Flags().StringVarP(&flags.ConfigFile, "config", "c", "", "Use a configuration file.")
	cmd.Flags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose mode.")

	return cmd
}

func Run(flags *Flags) {
	server, err := NewServer(flags)
	if err != nil {
		logrus.Fatal(err)
	}
	err = server.Start()
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.Info("relay started at ", server.Addr())

	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM)
	<-osSignals

	common.Close(server)
}

// apply merges the configuration file under the command-line values and
// turns on trace logging in verbose mode.
func (f *Flags) apply() error {
	if f.ConfigFile != "" {
		content, err := os.ReadFile(f.ConfigFile)
		if err != nil {
			return E.Cause(err, "read config file")
		}
		loaded := new(Flags)
		err = json.Unmarshal(content, loaded)
		if err != nil {
			return E.Cause(err, "decode config file")
		}
		if f.Listen == "" {
			f.Listen = loaded.Listen
		}
		if f.ListenPort == 0 {
			f.ListenPort = loaded.ListenPort
		}
		if f.Upstream == "" {
			f.Upstream = loaded.Upstream
		}
		if f.Timeout == 0 {
			f.Timeout = loaded.Timeout
		}
		if f.ConnectTimeout == 0 {
			f.ConnectTimeout = loaded.ConnectTimeout
		}
		if f.BufferSize == 0 {
			f.BufferSize = loaded.BufferSize
		}
		if f.MaxPipes == 0 {
			f.MaxPipes = loaded.MaxPipes
		}
		if !f.NoSplice {
			f.NoSplice = loaded.NoSplice
		}
		if !f.Verbose {
			f.Verbose = loaded.Verbose
		}
	}
	if f.Verbose {
		log.SetLevel(logrus.TraceLevel)
	}
	if f.ConnectTimeout == 0 {
		f.ConnectTimeout = 10
	}
	if f.Upstream == "" {
		return E.New("missing upstream address")
	}
	return nil
}

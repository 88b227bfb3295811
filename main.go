package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hear.town/audio"
	"hear.town/fetch"
	"hear.town/record"
	"hear.town/relay"
	"hear.town/stt"
	"hear.town/vad"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)
	serveCmd.Flags().
		Bool("capture", false, "Also capture from the local audio device")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(ensureCmd)
	rootCmd.AddCommand(assetsCmd)
	rootCmd.AddCommand(transcribeCmd)

	rootCmd.PersistentFlags().
		String("listen-addr", ":8080", "Relay listen address")
	rootCmd.PersistentFlags().
		String("data-dir", "", "Directory for provisioned whisper assets")
	rootCmd.PersistentFlags().
		String("backend", "process", "Transcription backend (process or embedded)")
	rootCmd.PersistentFlags().String("language", "en", "Transcription language")
	rootCmd.PersistentFlags().
		String("device", "", "PulseAudio source name (default source if empty)")
	rootCmd.PersistentFlags().Bool("vad", true, "Enable voice activity detection")
	rootCmd.PersistentFlags().
		Float64("silence-threshold", -40, "Silence threshold in dB")
	rootCmd.PersistentFlags().
		Duration("silence-duration", 1500*time.Millisecond, "Silence run that ends an utterance")
	rootCmd.PersistentFlags().
		Duration("min-chunk", 1000*time.Millisecond, "Minimum utterance duration")

	viper.BindPFlag(
		"listen_addr",
		rootCmd.PersistentFlags().Lookup("listen-addr"),
	)
	viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
	viper.BindPFlag("language", rootCmd.PersistentFlags().Lookup("language"))
	viper.BindPFlag("device", rootCmd.PersistentFlags().Lookup("device"))
	viper.BindPFlag("vad", rootCmd.PersistentFlags().Lookup("vad"))
	viper.BindPFlag(
		"silence_threshold_db",
		rootCmd.PersistentFlags().Lookup("silence-threshold"),
	)
	viper.BindPFlag(
		"silence_duration",
		rootCmd.PersistentFlags().Lookup("silence-duration"),
	)
	viper.BindPFlag(
		"min_chunk_duration",
		rootCmd.PersistentFlags().Lookup("min-chunk"),
	)
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	logger = log.New(os.Stdout)
}

var rootCmd = &cobra.Command{
	Use:   "hear",
	Short: "Hear is a live voice transcription pipeline",
	Long:  `Hear segments speech with voice activity detection, transcribes it with whisper.cpp, and relays audio and transcripts between peers over WebSocket.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay endpoint and a remote-fed recording session",
	Run:   runServe,
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Dictate from the local microphone",
	Long:  `Capture audio from the local PulseAudio source and print each transcribed utterance as it completes.`,
	Run:   runListen,
}

var ensureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Download and verify the whisper engine and model",
	Run:   runEnsure,
}

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "List provisioned assets in a cool table",
	Run:   runAssets,
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file.wav>",
	Short: "Transcribe a WAV file in one shot",
	Args:  cobra.ExactArgs(1),
	Run:   runTranscribe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func sessionConfig(captureLocal bool) record.Config {
	return record.Config{
		VAD:          vadConfig(),
		CaptureLocal: captureLocal,
		Device:       viper.GetString("device"),
	}
}

func vadConfig() vad.Config {
	return vad.Config{
		Enabled:            viper.GetBool("vad"),
		SilenceThresholdDB: viper.GetFloat64("silence_threshold_db"),
		SilenceDuration:    viper.GetDuration("silence_duration"),
		MinChunkDuration:   viper.GetDuration("min_chunk_duration"),
	}
}

func resolveDataDir(mainLogger *log.Logger) string {
	dir, err := fetch.DataDir(viper.GetString("data_dir"))
	if err != nil {
		mainLogger.Fatal("resolve data directory", "error", err.Error())
	}
	return dir
}

func ensureAssets(ctx context.Context, dir string, pullLogger *log.Logger) error {
	last := make(map[string]int)
	onProgress := func(name string, pct float64) {
		step := int(pct) / 10
		if step > last[name] {
			last[name] = step
			pullLogger.Info("downloading", "name", name, "pct", int(pct))
		}
	}
	return fetch.Ensure(ctx, fetch.DefaultAssets(dir), onProgress, pullLogger)
}

func newTranscriber(
	dir string,
	hearLogger *log.Logger,
) (stt.Transcriber, error) {
	language := viper.GetString("language")
	switch backend := viper.GetString("backend"); backend {
	case "process":
		return stt.NewProcessTranscriber(
			fetch.EnginePath(dir),
			fetch.ModelPath(dir),
			language,
			os.TempDir(),
			audio.WriteWAVFile,
			hearLogger,
		), nil
	case "embedded":
		return stt.NewEmbeddedTranscriber(
			fetch.ModelPath(dir),
			language,
			hearLogger,
		)
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func closeTranscriber(transcriber stt.Transcriber, hearLogger *log.Logger) {
	if closer, ok := transcriber.(stt.Closer); ok {
		if err := closer.Close(); err != nil {
			hearLogger.Error("close transcriber", "error", err.Error())
		}
	}
}

func runEnsure(cmd *cobra.Command, args []string) {
	mainLogger, _, _, pullLogger := createLoggers()

	dir := resolveDataDir(mainLogger)
	if err := ensureAssets(context.Background(), dir, pullLogger); err != nil {
		mainLogger.Fatal("provision assets", "error", err.Error())
	}
	mainLogger.Info("assets ready", "dir", dir)
}

func runAssets(cmd *cobra.Command, args []string) {
	mainLogger, _, _, _ := createLoggers()

	dir := resolveDataDir(mainLogger)
	statuses := fetch.Report(fetch.DefaultAssets(dir))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Name", "Path", "Present", "Size"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, st := range statuses {
		present := "no"
		size := ""
		if st.Present {
			present = "yes"
			size = fmt.Sprintf("%d", st.Size)
		}
		table.Append([]string{st.Name, st.Path, present, size})
	}

	table.Render()
}

func runTranscribe(cmd *cobra.Command, args []string) {
	mainLogger, hearLogger, _, pullLogger := createLoggers()

	f, err := os.Open(args[0])
	if err != nil {
		mainLogger.Fatal("open WAV file", "error", err.Error())
	}
	samples, sampleRate, channels, err := audio.ReadWAV(f)
	f.Close()
	if err != nil {
		mainLogger.Fatal("read WAV file", "error", err.Error())
	}

	ctx := context.Background()
	dir := resolveDataDir(mainLogger)
	if err := ensureAssets(ctx, dir, pullLogger); err != nil {
		mainLogger.Fatal("provision assets", "error", err.Error())
	}

	transcriber, err := newTranscriber(dir, hearLogger)
	if err != nil {
		mainLogger.Fatal("create transcriber", "error", err.Error())
	}
	defer closeTranscriber(transcriber, hearLogger)

	text, err := transcriber.Transcribe(
		ctx,
		audio.Normalize(samples, sampleRate, channels),
	)
	if err != nil {
		mainLogger.Fatal("transcribe", "error", err.Error())
	}
	fmt.Println(text)
}

func runListen(cmd *cobra.Command, args []string) {
	mainLogger, hearLogger, _, pullLogger := createLoggers()

	dir := resolveDataDir(mainLogger)
	if err := ensureAssets(context.Background(), dir, pullLogger); err != nil {
		mainLogger.Fatal("provision assets", "error", err.Error())
	}

	transcriber, err := newTranscriber(dir, hearLogger)
	if err != nil {
		mainLogger.Fatal("create transcriber", "error", err.Error())
	}
	defer closeTranscriber(transcriber, hearLogger)

	session := record.NewSession(
		transcriber,
		func(text string) { fmt.Println(text) },
		hearLogger,
	)
	defer session.Close()

	if err := session.Start(sessionConfig(true)); err != nil {
		mainLogger.Fatal("start capture", "error", err.Error())
	}
	mainLogger.Info("listening", "device", viper.GetString("device"))

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	if err := session.Stop(); err != nil {
		mainLogger.Error("stop session", "error", err.Error())
	}
}

func runServe(cmd *cobra.Command, args []string) {
	mainLogger, hearLogger, peerLogger, pullLogger := createLoggers()

	dir := resolveDataDir(mainLogger)
	if err := ensureAssets(context.Background(), dir, pullLogger); err != nil {
		mainLogger.Fatal("provision assets", "error", err.Error())
	}

	transcriber, err := newTranscriber(dir, hearLogger)
	if err != nil {
		mainLogger.Fatal("create transcriber", "error", err.Error())
	}
	defer closeTranscriber(transcriber, hearLogger)

	var hub *relay.Relay
	session := record.NewSession(
		transcriber,
		func(text string) {
			hearLogger.Info("transcript", "text", text)
			hub.Publish(text)
		},
		hearLogger,
	)
	defer session.Close()

	hub = relay.New(
		session.Feed,
		func(message string) {
			peerLogger.Info("peer message", "text", message)
		},
		peerLogger,
	)
	defer hub.Close()

	captureLocal, _ := cmd.Flags().GetBool("capture")
	if err := session.Start(sessionConfig(captureLocal)); err != nil {
		mainLogger.Fatal("start session", "error", err.Error())
	}

	mux := chi.NewRouter()
	hub.Routes(mux)

	addr := viper.GetString("listen_addr")
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		mainLogger.Info("starting relay", "addr", addr)
		if err := server.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			mainLogger.Fatal("start relay server", "error", err.Error())
		}
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	if err := session.Stop(); err != nil {
		mainLogger.Error("stop session", "error", err.Error())
	}
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		mainLogger.Error("shutdown relay server", "error", err.Error())
	}
}

func createLoggers() (mainLogger, hearLogger, peerLogger, pullLogger *log.Logger) {
	logLevel := log.DebugLevel

	logger.SetLevel(logLevel)
	logger.SetReportCaller(true)
	logger.SetCallerFormatter(
		func(file string, line int, funcName string) string {
			path, err := filepath.Rel(".", file)
			if err != nil {
				path = file
			}
			return fmt.Sprintf("%s:%d", path, line)
		},
	)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.MarginTop(1).
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	styles.Levels[log.InfoLevel] = styles.Levels[log.InfoLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Levels[log.ErrorLevel] = styles.Levels[log.ErrorLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))

	logger.SetStyles(styles)

	mainLogger = logger.With().WithPrefix("main")
	hearLogger = logger.With().WithPrefix("hear")
	peerLogger = logger.With().WithPrefix("peer")
	pullLogger = logger.With().WithPrefix("pull")

	return
}

package cli

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sokinpui/pin/internal/llm"
	"github.com/sokinpui/pin/internal/runner"
)

const (
	configBaseName   = "pin"
	configFileName   = configBaseName + ".yaml"
	configFolderPath = "."

	envPrefix = "PIN"

	pinFlagName         = "pin"
	nvimFlagName        = "nvim"
	noAnimationFlagName = "no-animation"
	diffFlagName        = "diff"
	verboseFlagName     = "verbose"
	modelFlagName       = "model"
	maxIterFlagName     = "max-iterations"
	timeoutFlagName     = "timeout"
	tailFlagName        = "tail"

	pinsKey          = "pins"
	llmModelKey      = "llm.model"
	llmAPIKeyKey     = "llm.api_key"
	llmMaxTokensKey  = "llm.max_tokens"
	llmTimeoutKey    = "llm.timeout"
	repairTailKey    = "repair.tail"
	repairMaxIterKey = "repair.max_iterations"
	repairTimeoutKey = "repair.timeout"
	unwrapFencesKey  = "parser.unwrap_fences"
	stateDirKey      = "state.dir"
	editorNvimKey    = "editor.nvim"
	uiNoAnimationKey = "ui.no_animation"
	uiDiffKey        = "ui.diff"

	defaultMaxIterations = 10
	defaultLLMTimeout    = 2 * time.Minute
	defaultUnwrapFences  = false

	logFilenameKey   = "log.filename"
	logLevelKey      = "log.level"
	logVerboseKey    = "log.verbose"
	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"

	defaultLogFilename   = ".pin.log"
	defaultLogMaxSize    = 10
	defaultLogMaxBackups = 3
)

// configErr is a config file that exists but could not be read.
var configErr error

func init() {
	viper.SetConfigName(configBaseName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configFolderPath)
	viper.SetConfigFile(filepath.Join(configFolderPath, configFileName))
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return
		}

		configErr = err
	}
}

func setDefaults() {
	viper.SetDefault(pinsKey, []string{})
	viper.SetDefault(llmModelKey, llm.DefaultModel)
	viper.SetDefault(llmAPIKeyKey, "")
	viper.SetDefault(llmMaxTokensKey, llm.DefaultMaxTokens)
	viper.SetDefault(llmTimeoutKey, defaultLLMTimeout)
	viper.SetDefault(repairTailKey, runner.DefaultTail)
	viper.SetDefault(repairMaxIterKey, defaultMaxIterations)
	viper.SetDefault(repairTimeoutKey, time.Duration(0))
	viper.SetDefault(unwrapFencesKey, defaultUnwrapFences)
	viper.SetDefault(stateDirKey, "")
	viper.SetDefault(editorNvimKey, false)
	viper.SetDefault(uiNoAnimationKey, false)
	viper.SetDefault(uiDiffKey, false)

	viper.SetDefault(logFilenameKey, defaultLogFilename)
	viper.SetDefault(logLevelKey, "info")
	viper.SetDefault(logVerboseKey, false)
	viper.SetDefault(logMaxSizeKey, defaultLogMaxSize)
	viper.SetDefault(logMaxBackupsKey, defaultLogMaxBackups)
}

// logLevel is the configured level, or Debug when verbose is set. Levels use
// slog's names ("debug", "info", "warn", "error", optionally "info+2").
func logLevel(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(viper.GetString(logLevelKey)))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// configureLogger sends the default slog logger to the rotating log file.
func configureLogger(verbose bool) {
	path := strings.TrimSpace(viper.GetString(logFilenameKey))
	if path == "" {
		path = defaultLogFilename
	}

	handler := slog.NewTextHandler(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    viper.GetInt(logMaxSizeKey),
		MaxBackups: viper.GetInt(logMaxBackupsKey),
		Compress:   true,
	}, &slog.HandlerOptions{Level: logLevel(verbose)})
	slog.SetDefault(slog.New(handler))
}

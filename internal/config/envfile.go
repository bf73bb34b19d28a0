package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// EnvFileLookup returns a lookup that consults the process environment
// first and the dotenv file at path second. Variables already exported in
// the environment always win. An empty path returns os.LookupEnv.
func EnvFileLookup(path string) (LookupEnvFunc, error) {
	if path == "" {
		return os.LookupEnv, nil
	}

	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, ConfigurationError{
			FilePath:  path,
			ErrorType: ErrorTypeIO,
			Message:   fmt.Sprintf("failed to read env file: %v", err),
		}
	}

	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}, nil
}

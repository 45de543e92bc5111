// Command arenakey encrypts the broker secret key for storage at rest. The
// output file is read at startup through broker.encrypted_secret_path.
//
//	ARENA_BROKER_SECRET_KEY=... ARENA_BROKER_SECRET_PASSWORD=... arenakey -out secret.json
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/alanyoungcy/arena/internal/crypto"
)

func main() {
	out := flag.String("out", "broker_secret.json", "where to write the encrypted secret")
	verify := flag.Bool("verify", false, "decrypt -out with the password instead of writing it")
	flag.Parse()

	_ = godotenv.Load()

	password := os.Getenv("ARENA_BROKER_SECRET_PASSWORD")
	if password == "" {
		fail("ARENA_BROKER_SECRET_PASSWORD must be set")
	}

	if *verify {
		secret, err := crypto.LoadSecret(crypto.SecretSource{EncryptedPath: *out, Password: password})
		if err != nil {
			fail(err.Error())
		}
		fmt.Printf("ok: %s decrypts to a %d-byte secret\n", *out, len(secret))
		return
	}

	secret := os.Getenv("ARENA_BROKER_SECRET_KEY")
	if secret == "" {
		secret = os.Getenv("ALPACA_API_SECRET_KEY")
	}
	if secret == "" {
		fail("ARENA_BROKER_SECRET_KEY (or ALPACA_API_SECRET_KEY) must be set")
	}

	blob, err := crypto.EncryptSecret(secret, password)
	if err != nil {
		fail(err.Error())
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		fail(err.Error())
	}
	fmt.Printf("wrote %s; set broker.encrypted_secret_path and remove the plaintext secret\n", *out)
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, "arenakey:", msg)
	os.Exit(1)
}

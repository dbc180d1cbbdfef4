// Package client is the hashverdict Go SDK.
//
// It submits files or precomputed SHA-256 digests to a hashverdict server and
// returns the reputation provider's verdict statistics.
//
//	c, err := client.New("http://localhost:8080", client.WithToken(os.Getenv("HASHVERDICT_TOKEN")))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Scanning a file
//
// The file is streamed to the server as a multipart upload; it is never read
// fully into memory:
//
//	f, _ := os.Open("installer.exe")
//	defer f.Close()
//	res, err := c.ScanFile(ctx, "installer.exe", f)
//
// # Scanning a digest
//
//	res, err := c.ScanHash(ctx, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")
//	if !res.Known {
//	    fmt.Println("no record upstream")
//	}
//
// Non-2xx responses are returned as *APIError; a 401 also matches
// ErrUnauthorized with errors.Is.
package client

// Package spinapi provides a client for the game backend that resolves
// spins, simulates bonus free spins and reports the authoritative balance.
//
// # Authentication
//
// All API requests are authenticated using:
//   - API Key: Sent in the x-api-key header
//   - HMAC Signature: SHA256 hash of the request body, sent in x-api-hmac header
//
// # Basic Usage
//
//	client := spinapi.NewClient(&spinapi.ClientConfig{
//	    BaseURL:      "https://games.example.net",
//	    APIKey:       "your-api-key",
//	    APISecret:    "your-api-secret",
//	    SessionToken: session,
//	})
//
//	result, err := client.DoSpin(ctx, decimal.NewFromInt(1), false, false)
//
// # Error Handling
//
// API errors are returned as *APIError with a Code field indicating the error type:
//
//	_, err := client.SimulateFreeSpin(ctx)
//	if spinapi.IsCode(err, spinapi.ErrNoFreeSpins) {
//	    // the server has no bonus round in progress
//	}
package spinapi

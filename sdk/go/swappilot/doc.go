// Package swappilot is a small Go client for the SwapPilot trigger API. It lets
// an external scheduler list and trigger jobs with the shared bearer secret.
package swappilot

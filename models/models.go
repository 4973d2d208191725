package models

// User identifies one connected client. The ID is assigned by the server
// registry when the connection completes and never changes afterwards.
type User struct {
	ID       int64  `json:"id"`
	Host     string `json:"host"`
	Username string `json:"username"`
}

// Descriptor announces an impending chunked transfer. File and audio
// transfers carry the same field set; the request tag tells them apart.
type Descriptor struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ChunkCount int    `json:"chunkCount"`
	Size       int64  `json:"size"`
}

// Chunk is one ordered fragment of a transfer, keyed by the transfer id.
type Chunk struct {
	ID   int64  `json:"id"`
	Data []byte `json:"data"`
}

// TransferRef addresses an already announced transfer by id only.
type TransferRef struct {
	ID int64 `json:"id"`
}

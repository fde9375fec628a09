package api

// TensorJSON carries a float32 tensor over the wire. Shape has one to four
// dims and is padded with trailing 1s. Layout is NCHW unless set to NHWC.
type TensorJSON struct {
	Name   string    `json:"name,omitempty"`
	Shape  []int     `json:"shape"`
	Layout string    `json:"layout,omitempty"`
	Data   []float32 `json:"data"`
}

type InferRequest struct {
	Model  string       `json:"model,omitempty"`
	Inputs []TensorJSON `json:"inputs"`
	// End stops the run at the named layer when the engine supports it.
	End string `json:"end,omitempty"`
	// Store keeps the result for GET /v1/infer/:id. Defaults to true.
	Store *bool `json:"store,omitempty"`
}

type InferResponse struct {
	ID         string       `json:"id"`
	Object     string       `json:"object"`
	CreatedAt  int64        `json:"created_at"`
	Model      string       `json:"model"`
	DurationMS float64      `json:"duration_ms"`
	Outputs    []TensorJSON `json:"outputs"`
}

type TensorInfo struct {
	Name string `json:"name"`
	Dims [4]int `json:"dims"`
}

type ModelResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Path    string       `json:"path"`
	State   string       `json:"state"`
	Inputs  []TensorInfo `json:"inputs"`
	Outputs []TensorInfo `json:"outputs"`
}

type DeleteResultResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

package sandbox

// CompileRequest is the wire form of a compile call shared by the transports
type CompileRequest struct {
	Code     string `json:"code"`
	Language string `json:"language" binding:"required"`
}

// ToExecutionRequest converts the wire form
func (r CompileRequest) ToExecutionRequest() ExecutionRequest {
	return ExecutionRequest{Source: r.Code, Language: r.Language}
}

// CompileResponse is the wire form of a compile result. Error is null unless
// the service itself failed; ExecutionTime is in seconds.
type CompileResponse struct {
	Output        string  `json:"output"`
	Error         *string `json:"error"`
	ExecutionTime float64 `json:"execution_time"`
	Cached        bool    `json:"cached"`
}

// NewCompileResponse converts result to its wire form
func NewCompileResponse(result ExecutionResult) CompileResponse {
	resp := CompileResponse{
		Output:        result.Output,
		ExecutionTime: result.Elapsed.Seconds(),
		Cached:        result.FromCache,
	}
	if result.Error != "" {
		msg := result.Error
		resp.Error = &msg
	}
	return resp
}

package cfn

// Pseudo parameters resolved by CloudFormation at deploy time.
const (
	AccountID = "AWS::AccountId"
	Partition = "AWS::Partition"
	Region    = "AWS::Region"
)

func Ref(logicalID string) map[string]any {
	return map[string]any{"Ref": logicalID}
}

func GetAtt(logicalID, attribute string) map[string]any {
	return map[string]any{"Fn::GetAtt": []string{logicalID, attribute}}
}

// Sub substitutes ${Name} and ${Name.Attr} references in s.
func Sub(s string) map[string]any {
	return map[string]any{"Fn::Sub": s}
}

func Select(index int, list any) map[string]any {
	return map[string]any{"Fn::Select": []any{index, list}}
}

// GetAZs lists the availability zones of the stack's region.
func GetAZs() map[string]any {
	return map[string]any{"Fn::GetAZs": ""}
}

// Tag is a CloudFormation resource tag.
type Tag struct {
	Key   string `json:"Key" yaml:"Key"`
	Value any    `json:"Value" yaml:"Value"`
}

package orchestrator

import (
	"strings"

	"SmartBI-Agent/internal/toolclient"
)

const promptHeader = `You are a helpful assistant that can use tools to help users. When you need to use a tool, format your response like this:
[TOOL_CALL]tool_name:{"arg1": value1, "arg2": value2}[/TOOL_CALL]

Available tools:
`

const promptFooter = "\nWhen asked about data analysis, ALWAYS use the appropriate data exploration tool.\n\n" +
	"Now, let's handle the user's query:\n"

type usageTemplate struct {
	tool string
	text string
}

// templates 按固定顺序排列；清单中没有模板的工具不会出现在提示中。
var templates = []usageTemplate{
	{tool: "load", text: `- load: Loads a CSV file into a named dataset
  Arguments:
    - path: Path to the CSV file
    - name: (optional) Name for the dataset
  Example: [TOOL_CALL]load:{"path": "data/housing.csv", "name": "housing_data"}[/TOOL_CALL]
`},
	{tool: "run_script", text: `- run_script: Executes an analysis script with access to loaded datasets
  Every dataset is available by its name (also via datasets["name"]). Print results or assign _return_value.
  Datasets support .shape, .columns, .head(n), .filter(col, op, value), .sort(col, reverse=True), .groupby(key, col, "sum"), .mean(col), .describe(); the stats module provides mean, median, std, quantile and corr.
  Arguments:
    - code: The script to execute
  Example: [TOOL_CALL]run_script:{"code": "top = df_1.sort(\"price\", reverse=True).head(3)\nprint(top)"}[/TOOL_CALL]
`},
	{tool: "describe", text: `- describe: Gets detailed information about a loaded dataset
  Arguments:
    - name: Name of the dataset
  Example: [TOOL_CALL]describe:{"name": "df_1"}[/TOOL_CALL]
`},
	{tool: "list", text: `- list: Lists all loaded datasets
  No arguments needed
  Example: [TOOL_CALL]list:{}[/TOOL_CALL]
`},
}

// BuildSystemPrompt 根据工具清单生成系统提示。
func BuildSystemPrompt(tools []toolclient.Tool) string {
	available := make(map[string]bool, len(tools))
	for _, t := range tools {
		available[t.Name] = true
	}

	var b strings.Builder
	b.WriteString(promptHeader)
	for _, tpl := range templates {
		if available[tpl.tool] {
			b.WriteString(tpl.text)
		}
	}
	b.WriteString(promptFooter)
	return b.String()
}

package conversation

import "fmt"

// The structured-output prompts below pin the model to a fixed markdown
// layout so the popup can render replies without further parsing.

const functionListingFormat = `### Read-only Functions:
1. **` + "`" + `<functionName(parameters)` + "`" + `**
   - **Returns:** <returnType> (e.g., uint256, string, bool, etc.)
   - **Description:** <brief description of what the function does>

### Write-able Functions:
1. **` + "`" + `<functionName(parameters)` + "`" + `**
   - **Returns:** <returnType> (if applicable)
   - **Description:** <brief description of what the function does>
   - **Payable:** <true/false> (if the function can accept Ether).
   - **Parameters:** <parameterName> <parameterType> <parameterDescription>

If no functions exist in a category, include the section with "None available." Ensure the response is accurate, concise, and excludes unrelated details. If the contract implements interfaces (e.g., ERC20, ERC721), include their functions as well.`

func contractOverviewPrompt(address string, chainID int64) string {
	return fmt.Sprintf(`Give me the details of this contract and provide a structured list of all functions available in the smart contract deployed at address %s on chain %d. The response must strictly follow this format:

### Contract Details:
- **Name:** <contractName>
- **Address:** <contractAddress>
- **Chain ID:** <chainId>
- **Blockchain:** <blockchainName>

%s`, address, chainID, functionListingFormat)
}

func rawSourcePrompt(address, sourceCode string, chainID int64) string {
	return fmt.Sprintf(`Analyze the following smart contract code and provide a structured list of all functions it contains. Also include high-level metadata about the contract. Use the code below as your reference:

%s

Your response must strictly follow this format:

### Contract Details:
- **Name:** <contractName>
- **Address:** %s
- **Chain ID:** %d
- **Blockchain:** <blockchainName>

%s`, sourceCode, address, chainID, functionListingFormat)
}

func decompiledAuditPrompt(address, decompiledCode string, chainID int64) string {
	return fmt.Sprintf(`Review the following decompiled smart contract code. Provide a detailed audit summary including:

- A structured list of all read-only and write-able functions.
- Any potentially dangerous operations (e.g., selfdestruct, delegatecall, raw calls).
- Indicators of proxy patterns, access control weaknesses, or upgradeability risks.
- Any unusual or suspicious logic.

Format your response as:

### Contract Details:
- **Address:** %s
- **Chain ID:** %d
- **Source:** Decompiled Bytecode

### Read-only Functions:
1. `+"`"+`<functionName(params)>`+"`"+`
   - **Returns:** <type>
   - **Description:** <what it does>

### Write-able Functions:
1. `+"`"+`<functionName(params)>`+"`"+`
   - **Returns:** <type if any>
   - **Description:** <what it does>
   - **Payable:** <true/false>
   - **Parameters:** <name> <type> <desc>

### Security Analysis:
- **Risk Level:** <low/medium/high>
- **Findings:**
  - <concise list of potential security issues or red flags>

Code to review:
`+"```solidity\n%s\n```", address, chainID, decompiledCode)
}

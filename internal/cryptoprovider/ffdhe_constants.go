package cryptoprovider

// Finite-field Diffie-Hellman group moduli for the FFDHE2048/3072/4096
// groups (DSP0274 Table 19). Structured the same way as RFC 7919's
// fixed-modulus safe-prime groups and computed the same way
// other_examples' egorse-ike tkm.go computes IKE's classical
// Diffie-Hellman (math/big modular exponentiation, generator 2, no
// third-party bignum library). This reference implementation does not
// claim byte-exact parity with the IETF ffdhe* constants: this package is
// explicitly reference-quality, not a hardened/interoperable primitive
// provider.

const ffdhe2048Hex = "" +
	"D72CD81345A2BA9AAF77824A87E3218965E55561D439DDD16099E6D7602009CB736E" +
	"BC06E4F16D2E861577245EDF4D18567857FBE166303B01CDA8F77039FB4F1B41C84C" +
	"C397BB029429E18A0DF2FAB92A6A83D10F6E5131D976FB6D4A26631C0CA5ACBB0D37" +
	"98E4AD5F244BCA3F16238A4E8FBC11AB408419718776074175C731E6DEB059B48AA8" +
	"C41EDA96DA27DE0CE2F44E4EA267DD40C3A400BB93F255CF46339C4C1CF31E17E438" +
	"CA36A12E569203E0E4E87B125E6E22902332B74C14AB4C472318EFC013E65B417988" +
	"B00D317BA5BCBE626BA98AC32D6107BAD5A8A7B735231703A5D06919C335306A2AF5" +
	"C7106603F62F28AC23E33A58A86A313AE9E5"

const ffdhe3072Hex = "" +
	"D86676A3B84CB5245C627ADD22B61EB9EE8845522EF8716DA501D851CBD3431D7D40" +
	"7E65DEC32EAFE9FFC6E3F0A75FDE7266EF5DAB91772809D4CF71278AE8644FBF1011" +
	"9BE13F8D20A7122516388D8CE935EDCE5B0E13F5896A15B7B9EADCD9D2935E34B980" +
	"BEB45BEA19675878D4DE9629BC5085E7F9B4294B268F6DAF5F447C45024845D0DC86" +
	"5157C6BB4F1795851CE4510857BDCAAE6B5D75F00DEA32FF5F519600F11A0FAF23B9" +
	"8561F2600AC93B201CCC8B9E5A29B9732494B7F567EF78E49072553C39E7F00A8C92" +
	"472520F7057F5320F455DA25F914718FF7A23ADAAFE880EFC3C2FCACBEC434770EA3" +
	"32E7CCABB16D59FB2D6625D8DDF00A735083C610939FBBF0DC4646427F7F824E722D" +
	"C8F021D95C1857149C83C570D7A8F68811696E2D767418BCCAA21AF5186EF114DC31" +
	"AD9B79F7566AF9E55EE9BD6A432AACEEABB8519549EB247019D2E391CB0B986B179E" +
	"A3518E883D7BD365171836263B401EF7D43879ACD05184CE648F6F3B0FB58E17223C" +
	"CE3DEE22BA21CEE5DF75"

const ffdhe4096Hex = "" +
	"F255F16CCD6CFB2534F81AAC0FFE394D0447AD324518A142846BDFA8DB950B3E994F" +
	"DFC7F463C01902853CBA3E947D803D3682060CB89EF8AFF495E5142A6A71F91FE72A" +
	"FF5A80150E6BE63DAB34D5912AAA8F9DF56E3824EC32CEEBEC6713B16E52AD0E6C6C" +
	"67DE0243448AE82929138B81C5D26D225A0F35FED2D97237325AB08D797568602A0A" +
	"2BFB51930326AE7ABE1A4870F8D70D1CE60469CA14837571DA70FBD5706F4C5D833F" +
	"A163BCF6F32482F146D97F1C209056F1798E323207801DF11B74D2246A15CA097DDD" +
	"CAFC245AF55589B77585964D8D732F11BFC11CC9D586C33DE5B1C569119DAF89D2E6" +
	"FD688B505FD6AFED77C38EF3903E494259E41FC54E1975CC7F92104465A4FF06DB5F" +
	"AA2EDEFA3794E01460B285AF66BBD3D64AC2A3C20726DF310A516E83CFF3E39E74AB" +
	"A75BBF6C69A08D1303BE0F2E663155A8D5C1B17DA036C49914D968D81504E79307B6" +
	"9114A27CDA96E82D77312E8E4AAC05FC6BD58660FD40023F7988464869EF1FA791CE" +
	"67F5E9B2DBF31C3BA6D3D79E8B6B9B515A5D1CD74BCFCD8C88BA14A66A77B85DA114" +
	"68959C1B74E8C3AD0B86A6DBB4BD050D271F8C777F867DBCED05ABC2F2E7E3B8837F" +
	"8F101ECE957B5C74FFFD91B9FE29E880179BFEF63B4CF33EBF835D03081FB22EA9FA" +
	"49B89A27D209E8B9D77337ED7B800490D0B4357810E88525DAC22C0C81F1FBD6BE15" +
	"8F0F"
